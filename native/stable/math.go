package stable

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// precision is the shared 1e18 fixed point used by amounts, prices and
	// the health factor ratio.
	precision = mustBigInt("1000000000000000000")
	// minHealthFactor is 1.0 expressed in the same precision as the
	// computed ratio.
	minHealthFactor = mustBigInt("1000000000000000000")
	// maxHealthFactor is the sentinel returned for debt-free positions. It
	// compares above any computable ratio.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// usdValue converts an asset amount to its USD value given a 1e18-scaled
// unit price. The result stays in 1e18 fixed point, floor division.
func usdValue(price, amount *big.Int) *big.Int {
	if price == nil || amount == nil {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(price, amount)
	return value.Quo(value, precision)
}

// tokenAmountFromUsd converts a 1e18-scaled USD value to asset units at the
// given unit price, floor division. A non-positive price yields zero.
func tokenAmountFromUsd(usd, price *big.Int) *big.Int {
	if usd == nil || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(usd, precision)
	return amount.Quo(amount, price)
}

// healthFactor computes the threshold-adjusted collateral to debt ratio in
// 1e18 fixed point. Debt-free positions return the unbreakable sentinel so
// the division by zero is explicitly guarded rather than left to fail.
func healthFactor(collateralUsd, debt *big.Int, thresholdBps uint64) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor)
	}
	if collateralUsd == nil || collateralUsd.Sign() <= 0 {
		return big.NewInt(0)
	}
	adjusted := new(big.Int).Mul(collateralUsd, new(big.Int).SetUint64(thresholdBps))
	adjusted.Quo(adjusted, basisPoints)
	adjusted.Mul(adjusted, precision)
	return adjusted.Quo(adjusted, debt)
}

// bonusAmount applies a basis-point bonus to a base amount, floor division.
func bonusAmount(base *big.Int, bonusBps uint64) *big.Int {
	if base == nil || base.Sign() <= 0 || bonusBps == 0 {
		return big.NewInt(0)
	}
	bonus := new(big.Int).Mul(base, new(big.Int).SetUint64(bonusBps))
	return bonus.Quo(bonus, basisPoints)
}
