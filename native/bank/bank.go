package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/pratokko/stable-coin/crypto"
)

var (
	ErrNilState            = errors.New("bank: state not configured")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
)

// DscSymbol names the issued asset inside the bank's balance space.
const DscSymbol = "DSC"

// Storage is the subset of the state manager the bank persists through.
// The bank shares the engine's state session, so a reverted engine
// operation also unwinds every bank mutation it caused.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Bank is an in-process asset ledger standing in for external token
// contracts. It implements the engine's AssetTransfer and IssuedAsset
// capabilities: per-account balances for each collateral asset, plus mint,
// burn and supply tracking for the issued asset.
type Bank struct {
	store   Storage
	custody crypto.Address
}

// New wires a bank to the state store. Push debits the custody account the
// engine deposits pulled collateral into.
func New(store Storage, custody crypto.Address) *Bank {
	return &Bank{store: store, custody: custody}
}

func balanceKey(asset string, addr crypto.Address) []byte {
	return []byte("bank/balance/" + asset + "/" + addr.Hex())
}

var supplyKey = []byte("bank/supply/" + DscSymbol)

// Balance returns the account's holding of the asset, zero when absent.
func (b *Bank) Balance(asset string, addr crypto.Address) (*big.Int, error) {
	if b == nil || b.store == nil {
		return nil, ErrNilState
	}
	balance := new(big.Int)
	if _, err := b.store.KVGet(balanceKey(asset, addr), balance); err != nil {
		return nil, fmt.Errorf("bank balance: %w", err)
	}
	return balance, nil
}

// Credit adds to an account's holding. Used to fund accounts at genesis and
// in tests.
func (b *Bank) Credit(asset string, addr crypto.Address, amount *big.Int) error {
	if b == nil || b.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := b.Balance(asset, addr)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return b.store.KVPut(balanceKey(asset, addr), balance)
}

func (b *Bank) debit(asset string, addr crypto.Address, amount *big.Int) error {
	balance, err := b.Balance(asset, addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	return b.store.KVPut(balanceKey(asset, addr), balance)
}

// Pull moves amount of asset from one account to another.
func (b *Bank) Pull(asset string, from, to crypto.Address, amount *big.Int) error {
	if b == nil || b.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := b.debit(asset, from, amount); err != nil {
		return err
	}
	return b.Credit(asset, to, amount)
}

// Push moves amount of asset out of the custody account to the recipient.
func (b *Bank) Push(asset string, to crypto.Address, amount *big.Int) error {
	if b == nil || b.store == nil {
		return ErrNilState
	}
	return b.Pull(asset, b.custody, to, amount)
}

// Mint creates issued asset for the recipient and grows the total supply.
func (b *Bank) Mint(to crypto.Address, amount *big.Int) error {
	if b == nil || b.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := b.Credit(DscSymbol, to, amount); err != nil {
		return err
	}
	supply, err := b.Supply()
	if err != nil {
		return err
	}
	supply.Add(supply, amount)
	return b.store.KVPut(supplyKey, supply)
}

// BurnFrom destroys issued asset held by the holder and shrinks the total
// supply. Holding less than amount fails the burn.
func (b *Bank) BurnFrom(holder crypto.Address, amount *big.Int) error {
	if b == nil || b.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := b.debit(DscSymbol, holder, amount); err != nil {
		return err
	}
	supply, err := b.Supply()
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply.Sub(supply, amount)
	return b.store.KVPut(supplyKey, supply)
}

// Supply returns the outstanding issued-asset supply.
func (b *Bank) Supply() (*big.Int, error) {
	if b == nil || b.store == nil {
		return nil, ErrNilState
	}
	supply := new(big.Int)
	if _, err := b.store.KVGet(supplyKey, supply); err != nil {
		return nil, fmt.Errorf("bank supply: %w", err)
	}
	return supply, nil
}
