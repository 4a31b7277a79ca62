package stable

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/pratokko/stable-coin/crypto"
)

// AssetTransfer moves approved collateral assets between accounts and the
// engine's custody account. Implementations hand control to third-party
// logic, so the engine treats every call as an interaction in the
// checks-effects-interactions ordering.
type AssetTransfer interface {
	Pull(asset string, from, to crypto.Address, amount *big.Int) error
	Push(asset string, to crypto.Address, amount *big.Int) error
}

// IssuedAsset mints and destroys the dollar-pegged issued asset.
type IssuedAsset interface {
	Mint(to crypto.Address, amount *big.Int) error
	BurnFrom(holder crypto.Address, amount *big.Int) error
}

// PauseView reports whether an operation is administratively paused.
type PauseView interface {
	IsPaused(op string) bool
}

// Params groups the risk parameters governing solvency checks, expressed in
// basis points.
type Params struct {
	// LiquidationThresholdBps is the fraction of collateral value counted
	// toward backing debt. 5000 implies a 2x overcollateralization
	// requirement.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the premium paid to liquidators in seized
	// collateral beyond the face value of debt repaid.
	LiquidationBonusBps uint64
}

// Normalise applies the default risk parameters where unset.
func (p Params) Normalise() Params {
	out := p
	if out.LiquidationThresholdBps == 0 {
		out.LiquidationThresholdBps = 5000
	}
	if out.LiquidationBonusBps == 0 {
		out.LiquidationBonusBps = 1000
	}
	return out
}

// Operation names used for pause switches, events and metrics labels.
const (
	OpDepositCollateral           = "depositCollateral"
	OpMintDsc                     = "mintDsc"
	OpDepositCollateralAndMintDsc = "depositCollateralAndMintDsc"
	OpRedeemCollateral            = "redeemCollateral"
	OpRedeemCollateralForDsc      = "redeemCollateralForDsc"
	OpBurnDsc                     = "burnDsc"
	OpLiquidate                   = "liquidate"
)

// Engine orchestrates every public operation over the collateral and debt
// ledgers. Mutating operations run under checks-effects-interactions
// ordering behind a re-entrancy guard, and commit or revert as one unit:
// the state session is snapshotted on entry and rolled back wholesale on
// any failure.
type Engine struct {
	state      Storage
	registry   *Registry
	oracle     PriceOracle
	transfers  AssetTransfer
	dsc        IssuedAsset
	custody    crypto.Address
	params     Params
	pauses     PauseView
	emitter    Emitter
	collateral *CollateralLedger
	debt       *DebtLedger
	busy       atomic.Bool
}

// NewEngine constructs an engine over the immutable asset registry. The
// symbol and feed lists must have equal length; there is no way to add or
// remove an asset afterwards.
func NewEngine(symbols, feeds []string, custody crypto.Address, params Params) (*Engine, error) {
	registry, err := NewRegistry(symbols, feeds)
	if err != nil {
		return nil, err
	}
	return &Engine{
		registry: registry,
		custody:  custody,
		params:   params.Normalise(),
	}, nil
}

// SetState wires the engine and its ledgers to the state store.
func (e *Engine) SetState(state Storage) {
	if e == nil {
		return
	}
	e.state = state
	e.collateral = NewCollateralLedger(state)
	e.debt = NewDebtLedger(state)
}

// SetOracle configures the trusted price source.
func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetCapabilities wires the external transfer and issued-asset capabilities.
func (e *Engine) SetCapabilities(transfers AssetTransfer, dsc IssuedAsset) {
	if e == nil {
		return
	}
	e.transfers = transfers
	e.dsc = dsc
}

// SetPauses installs the administrative pause switch.
func (e *Engine) SetPauses(p PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter installs the event sink invoked after successful operations.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// Custody returns the engine's collateral custody account.
func (e *Engine) Custody() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.custody
}

// Params returns the configured risk parameters.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// run executes a mutating operation under the re-entrancy guard and a state
// snapshot. The guard is released on every exit path; the snapshot is
// reverted whenever fn fails so no partial effect survives.
func (e *Engine) run(op string, fn func() error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.transfers == nil || e.dsc == nil {
		return ErrNilCapability
	}
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.busy.Store(false)
	if e.pauses != nil && e.pauses.IsPaused(op) {
		return ErrPaused
	}
	revision := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(revision)
		return err
	}
	return nil
}

func (e *Engine) emit(payload eventPayload) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(payload.Event())
}

// DepositCollateral pulls amount of an approved asset from the caller into
// custody and credits the caller's deposited balance.
func (e *Engine) DepositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	return e.run(OpDepositCollateral, func() error {
		return e.depositCollateral(caller, asset, amount)
	})
}

func (e *Engine) depositCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	symbol := normaliseSymbol(asset)
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Approved(symbol) {
		return ErrAssetNotApproved
	}
	if err := e.collateral.Credit(caller, symbol, amount); err != nil {
		return err
	}
	if err := e.transfers.Pull(symbol, caller, e.custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(CollateralDeposited{User: caller, Asset: symbol, Amount: amount})
	return nil
}

// MintDsc increases the caller's debt, verifies the resulting health factor
// and instructs the issued-asset mint. A solvency failure discards the debt
// change.
func (e *Engine) MintDsc(caller crypto.Address, amount *big.Int) error {
	return e.run(OpMintDsc, func() error {
		return e.mintDsc(caller, amount)
	})
}

func (e *Engine) mintDsc(caller crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.debt.Increase(caller, amount); err != nil {
		return err
	}
	if err := e.requireHealthy(caller); err != nil {
		return err
	}
	if err := e.dsc.Mint(caller, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(DscMinted{User: caller, Amount: amount})
	return nil
}

// DepositCollateralAndMintDsc composes deposit and mint as one indivisible
// operation: a failure in either leg discards both.
func (e *Engine) DepositCollateralAndMintDsc(caller crypto.Address, asset string, collateralAmount, mintAmount *big.Int) error {
	return e.run(OpDepositCollateralAndMintDsc, func() error {
		if err := e.depositCollateral(caller, asset, collateralAmount); err != nil {
			return err
		}
		return e.mintDsc(caller, mintAmount)
	})
}

// RedeemCollateral withdraws amount of an approved asset back to the
// caller, then verifies the caller's health factor after the withdrawal.
func (e *Engine) RedeemCollateral(caller crypto.Address, asset string, amount *big.Int) error {
	return e.run(OpRedeemCollateral, func() error {
		return e.redeemCollateral(caller, caller, asset, amount)
	})
}

func (e *Engine) redeemCollateral(from, to crypto.Address, asset string, amount *big.Int) error {
	symbol := normaliseSymbol(asset)
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Approved(symbol) {
		return ErrAssetNotApproved
	}
	if err := e.collateral.Debit(from, symbol, amount); err != nil {
		return err
	}
	if err := e.transfers.Push(symbol, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.requireHealthy(from); err != nil {
		return err
	}
	e.emit(CollateralRedeemed{From: from, To: to, Asset: symbol, Amount: amount})
	return nil
}

// RedeemCollateralForDsc burns issued asset first, then redeems collateral,
// as one indivisible operation.
func (e *Engine) RedeemCollateralForDsc(caller crypto.Address, asset string, collateralAmount, burnAmount *big.Int) error {
	return e.run(OpRedeemCollateralForDsc, func() error {
		if err := e.burnDsc(caller, caller, burnAmount); err != nil {
			return err
		}
		return e.redeemCollateral(caller, caller, asset, collateralAmount)
	})
}

// BurnDsc pulls issued asset from the caller, destroys it and decreases the
// caller's debt. Burning can only improve the ratio, so a solvency failure
// here marks an internal invariant violation rather than a user error.
func (e *Engine) BurnDsc(caller crypto.Address, amount *big.Int) error {
	return e.run(OpBurnDsc, func() error {
		return e.burnDsc(caller, caller, amount)
	})
}

func (e *Engine) burnDsc(onBehalfOf, payer crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.debt.Decrease(onBehalfOf, amount); err != nil {
		return err
	}
	if err := e.dsc.BurnFrom(payer, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.requireHealthy(onBehalfOf); err != nil {
		return fmt.Errorf("health factor regressed after burn: %w", err)
	}
	e.emit(DscBurned{User: onBehalfOf, Amount: amount})
	return nil
}

// Liquidate seizes collateral from an under-collateralized user and pays
// down their debt, funded by the caller. The seized amount carries the
// liquidation bonus. The target's health factor must strictly improve and
// the caller's own position must stay healthy, otherwise the whole
// operation reverts. There is no bad-debt backstop: a seizure exceeding the
// user's deposited balance fails outright.
func (e *Engine) Liquidate(caller crypto.Address, asset string, user crypto.Address, debtToCover *big.Int) error {
	return e.run(OpLiquidate, func() error {
		return e.liquidate(caller, asset, user, debtToCover)
	})
}

func (e *Engine) liquidate(caller crypto.Address, asset string, user crypto.Address, debtToCover *big.Int) error {
	symbol := normaliseSymbol(asset)
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Approved(symbol) {
		return ErrAssetNotApproved
	}

	startingHealth, err := e.HealthFactor(user)
	if err != nil {
		return err
	}
	if startingHealth.Cmp(minHealthFactor) >= 0 {
		return ErrPositionHealthy
	}

	price, err := e.assetPrice(symbol)
	if err != nil {
		return err
	}
	seizedBase := tokenAmountFromUsd(debtToCover, price)
	bonus := bonusAmount(seizedBase, e.params.LiquidationBonusBps)
	totalSeized := new(big.Int).Add(seizedBase, bonus)

	if err := e.collateral.Debit(user, symbol, totalSeized); err != nil {
		return err
	}
	if err := e.debt.Decrease(user, debtToCover); err != nil {
		return err
	}
	if err := e.transfers.Push(symbol, caller, totalSeized); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.dsc.BurnFrom(caller, debtToCover); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	endingHealth, err := e.HealthFactor(user)
	if err != nil {
		return err
	}
	if endingHealth.Cmp(startingHealth) <= 0 {
		return ErrLiquidationIneffective
	}
	if err := e.requireHealthy(caller); err != nil {
		return err
	}

	e.emit(Liquidated{
		Liquidator: caller,
		User:       user,
		Asset:      symbol,
		DebtCover:  debtToCover,
		Seized:     totalSeized,
	})
	return nil
}

func (e *Engine) requireHealthy(user crypto.Address) error {
	health, err := e.HealthFactor(user)
	if err != nil {
		return err
	}
	if health.Cmp(minHealthFactor) < 0 {
		return ErrHealthFactorBroken
	}
	return nil
}

// --- Read-only queries ---
// Every query is total over any reachable state: zero deposits, zero debt
// and an empty registry all yield defined results.

// HealthFactor computes the user's current solvency ratio in 1e18 fixed
// point. Debt-free positions report the unbreakable sentinel.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	debt, err := e.debt.Debt(user)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	value, err := e.AccountCollateralValue(user)
	if err != nil {
		return nil, err
	}
	return healthFactor(value, debt, e.params.LiquidationThresholdBps), nil
}

// AccountCollateralValue sums the USD value of every registered asset the
// user has deposited, in 1e18 fixed point.
func (e *Engine) AccountCollateralValue(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	total := new(big.Int)
	for _, asset := range e.registry.Assets() {
		balance, err := e.collateral.Balance(user, asset.Symbol)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		if e.oracle == nil {
			return nil, ErrNilOracle
		}
		price, err := e.oracle.Price(asset.FeedID)
		if err != nil {
			return nil, err
		}
		total.Add(total, usdValue(price, balance))
	}
	return total, nil
}

// UsdValue converts an amount of an approved asset to its USD value.
func (e *Engine) UsdValue(asset string, amount *big.Int) (*big.Int, error) {
	price, err := e.assetPrice(normaliseSymbol(asset))
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	return usdValue(price, amount), nil
}

// TokenAmountFromUsd converts a USD value to units of an approved asset at
// the oracle price, floor division.
func (e *Engine) TokenAmountFromUsd(asset string, usdAmount *big.Int) (*big.Int, error) {
	price, err := e.assetPrice(normaliseSymbol(asset))
	if err != nil {
		return nil, err
	}
	if usdAmount == nil {
		return big.NewInt(0), nil
	}
	return tokenAmountFromUsd(usdAmount, price), nil
}

// AccountInformation returns the user's outstanding debt and total
// collateral value.
func (e *Engine) AccountInformation(user crypto.Address) (debt, collateralValue *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	debt, err = e.debt.Debt(user)
	if err != nil {
		return nil, nil, err
	}
	collateralValue, err = e.AccountCollateralValue(user)
	if err != nil {
		return nil, nil, err
	}
	return debt, collateralValue, nil
}

// ApprovedAssets enumerates the registry in registration order.
func (e *Engine) ApprovedAssets() []ApprovedAsset {
	if e == nil {
		return nil
	}
	return e.registry.Assets()
}

// CollateralBalance returns the user's deposited balance for an asset.
func (e *Engine) CollateralBalance(user crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	symbol := normaliseSymbol(asset)
	if !e.registry.Approved(symbol) {
		return nil, ErrAssetNotApproved
	}
	return e.collateral.Balance(user, symbol)
}

// PriceFeed resolves the feed identifier for an approved asset.
func (e *Engine) PriceFeed(asset string) (string, error) {
	if e == nil {
		return "", ErrNilState
	}
	feed, ok := e.registry.Feed(asset)
	if !ok {
		return "", ErrAssetNotApproved
	}
	return feed, nil
}

// Position assembles a read-only snapshot of the user's deposits and debt.
func (e *Engine) Position(user crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position := &Position{Address: user, Collateral: make(map[string]*big.Int)}
	for _, asset := range e.registry.Assets() {
		balance, err := e.collateral.Balance(user, asset.Symbol)
		if err != nil {
			return nil, err
		}
		position.Collateral[asset.Symbol] = balance
	}
	debt, err := e.debt.Debt(user)
	if err != nil {
		return nil, err
	}
	position.Debt = debt
	return position, nil
}

func (e *Engine) assetPrice(symbol string) (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	feed, ok := e.registry.Feed(symbol)
	if !ok {
		return nil, ErrAssetNotApproved
	}
	price, err := e.oracle.Price(feed)
	if err != nil {
		return nil, fmt.Errorf("oracle price for %s: %w", symbol, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle price for %s: non-positive answer", symbol)
	}
	return price, nil
}
