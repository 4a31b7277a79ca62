package stable

import (
	"fmt"
	"math/big"

	"github.com/pratokko/stable-coin/crypto"
)

// Storage abstracts the sessioned state manager the ledgers persist through.
// Snapshot and RevertToSnapshot give every engine operation all-or-nothing
// semantics over the staged writes.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(revision int)
}

func collateralKey(asset string, user crypto.Address) []byte {
	return []byte("stable/collateral/" + asset + "/" + user.Hex())
}

func debtKey(user crypto.Address) []byte {
	return []byte("stable/debt/" + user.Hex())
}

// CollateralLedger tracks per-user deposited balances for each approved
// asset. Balances never go negative: debits that exceed the balance fail.
type CollateralLedger struct {
	store Storage
}

// NewCollateralLedger wires the ledger to a state store.
func NewCollateralLedger(store Storage) *CollateralLedger {
	return &CollateralLedger{store: store}
}

// Balance returns the deposited amount for the user and asset, zero when
// nothing was ever deposited.
func (l *CollateralLedger) Balance(user crypto.Address, asset string) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	balance := new(big.Int)
	if _, err := l.store.KVGet(collateralKey(asset, user), balance); err != nil {
		return nil, fmt.Errorf("collateral balance: %w", err)
	}
	return balance, nil
}

// Credit increases the user's deposited balance for the asset.
func (l *CollateralLedger) Credit(user crypto.Address, asset string, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.Balance(user, asset)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return l.store.KVPut(collateralKey(asset, user), balance)
}

// Debit decreases the user's deposited balance for the asset, failing with
// ErrInsufficientCollateral when the balance cannot cover the amount.
func (l *CollateralLedger) Debit(user crypto.Address, asset string, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.Balance(user, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	balance.Sub(balance, amount)
	return l.store.KVPut(collateralKey(asset, user), balance)
}

// DebtLedger tracks per-user outstanding issued-asset debt.
type DebtLedger struct {
	store Storage
}

// NewDebtLedger wires the ledger to a state store.
func NewDebtLedger(store Storage) *DebtLedger {
	return &DebtLedger{store: store}
}

// Debt returns the user's outstanding debt, zero when none was ever minted.
func (l *DebtLedger) Debt(user crypto.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	debt := new(big.Int)
	if _, err := l.store.KVGet(debtKey(user), debt); err != nil {
		return nil, fmt.Errorf("debt balance: %w", err)
	}
	return debt, nil
}

// Increase adds to the user's debt unconditionally; solvency is the
// engine's responsibility after the mutation.
func (l *DebtLedger) Increase(user crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	debt, err := l.Debt(user)
	if err != nil {
		return err
	}
	debt.Add(debt, amount)
	return l.store.KVPut(debtKey(user), debt)
}

// Decrease reduces the user's debt, failing with ErrInsufficientDebt when
// the reduction exceeds the outstanding amount.
func (l *DebtLedger) Decrease(user crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	debt, err := l.Debt(user)
	if err != nil {
		return err
	}
	if debt.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	debt.Sub(debt, amount)
	return l.store.KVPut(debtKey(user), debt)
}
