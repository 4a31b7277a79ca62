package stable

import (
	"math/big"

	"github.com/pratokko/stable-coin/crypto"
)

const (
	TypeCollateralDeposited = "stable.collateral.deposited"
	TypeCollateralRedeemed  = "stable.collateral.redeemed"
	TypeDscMinted           = "stable.dsc.minted"
	TypeDscBurned           = "stable.dsc.burned"
	TypeLiquidated          = "stable.liquidated"
)

// Event is the flattened form handed to emitters after a successful
// mutating operation commits.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter receives engine events. Implementations must not call back into
// mutating engine operations.
type Emitter interface {
	Emit(Event)
}

type eventPayload interface {
	Event() Event
}

type CollateralDeposited struct {
	User   crypto.Address
	Asset  string
	Amount *big.Int
}

func (e CollateralDeposited) Event() Event {
	return Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"user":   e.User.String(),
			"asset":  e.Asset,
			"amount": formatAmount(e.Amount),
		},
	}
}

type CollateralRedeemed struct {
	From   crypto.Address
	To     crypto.Address
	Asset  string
	Amount *big.Int
}

func (e CollateralRedeemed) Event() Event {
	return Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   e.From.String(),
			"to":     e.To.String(),
			"asset":  e.Asset,
			"amount": formatAmount(e.Amount),
		},
	}
}

type DscMinted struct {
	User   crypto.Address
	Amount *big.Int
}

func (e DscMinted) Event() Event {
	return Event{
		Type: TypeDscMinted,
		Attributes: map[string]string{
			"user":   e.User.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type DscBurned struct {
	User   crypto.Address
	Amount *big.Int
}

func (e DscBurned) Event() Event {
	return Event{
		Type: TypeDscBurned,
		Attributes: map[string]string{
			"user":   e.User.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type Liquidated struct {
	Liquidator crypto.Address
	User       crypto.Address
	Asset      string
	DebtCover  *big.Int
	Seized     *big.Int
}

func (e Liquidated) Event() Event {
	return Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator": e.Liquidator.String(),
			"user":       e.User.String(),
			"asset":      e.Asset,
			"debtCover":  formatAmount(e.DebtCover),
			"seized":     formatAmount(e.Seized),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
