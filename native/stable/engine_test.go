package stable

import (
	"errors"
	"math/big"
	"testing"

	"github.com/pratokko/stable-coin/crypto"
	"github.com/pratokko/stable-coin/native/bank"
	"github.com/pratokko/stable-coin/state"
	"github.com/pratokko/stable-coin/storage"
)

func makeAddress(seed byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = seed
	return crypto.NewAddress(crypto.StablePrefix, raw)
}

func wei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision)
}

type testHarness struct {
	engine  *Engine
	manager *state.Manager
	bank    *bank.Bank
	oracle  *ManualOracle
	custody crypto.Address
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	custody := makeAddress(0x01)
	engine, err := NewEngine(
		[]string{"WETH", "WBTC"},
		[]string{"eth-usd", "btc-usd"},
		custody,
		Params{},
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	manager := state.NewManager(storage.NewMemDB())
	engine.SetState(manager)

	oracle := NewManualOracle()
	oracle.Set("eth-usd", wei(2_000))
	oracle.Set("btc-usd", wei(30_000))
	engine.SetOracle(oracle)

	b := bank.New(manager, custody)
	engine.SetCapabilities(b, b)

	return &testHarness{engine: engine, manager: manager, bank: b, oracle: oracle, custody: custody}
}

func (h *testHarness) fund(t *testing.T, addr crypto.Address, asset string, amount *big.Int) {
	t.Helper()
	if err := h.bank.Credit(asset, addr, amount); err != nil {
		t.Fatalf("fund %s: %v", asset, err)
	}
}

func TestNewEngineRejectsMismatchedRegistry(t *testing.T) {
	custody := makeAddress(0x01)
	if _, err := NewEngine([]string{"WETH"}, nil, custody, Params{}); !errors.Is(err, ErrMismatchedRegistry) {
		t.Fatalf("expected mismatched registry, got %v", err)
	}
	if _, err := NewEngine([]string{"WETH", "WETH"}, []string{"a", "b"}, custody, Params{}); !errors.Is(err, ErrMismatchedRegistry) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestDepositCollateral(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(5))

	if err := h.engine.DepositCollateral(alice, "WETH", wei(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	balance, err := h.engine.CollateralBalance(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Cmp(wei(2)) != 0 {
		t.Fatalf("unexpected deposited balance: %s", balance)
	}
	held, err := h.bank.Balance("WETH", h.custody)
	if err != nil {
		t.Fatalf("custody balance: %v", err)
	}
	if held.Cmp(wei(2)) != 0 {
		t.Fatalf("unexpected custody balance: %s", held)
	}
}

func TestDepositValidation(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)

	if err := h.engine.DepositCollateral(alice, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := h.engine.DepositCollateral(alice, "DOGE", wei(1)); !errors.Is(err, ErrAssetNotApproved) {
		t.Fatalf("expected unapproved asset, got %v", err)
	}
}

func TestDepositRevertsWhenPullFails(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	// Alice holds nothing, so the bank pull fails after the ledger credit.
	err := h.engine.DepositCollateral(alice, "WETH", wei(1))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	balance, err := h.engine.CollateralBalance(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("ledger credit should have been reverted, got %s", balance)
	}
}

func TestMintScenario(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(1))

	// 1 WETH at $2000 backs a 500 DSC mint at the 2x requirement.
	if err := h.engine.DepositCollateral(alice, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.MintDsc(alice, wei(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Another 1500 would mean 2000 debt against $2000 collateral: 1x, not 2x.
	err := h.engine.MintDsc(alice, wei(1_500))
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected solvency failure, got %v", err)
	}

	debt, value, err := h.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(500)) != 0 {
		t.Fatalf("debt change should have been discarded, got %s", debt)
	}
	if value.Cmp(wei(2_000)) != 0 {
		t.Fatalf("unexpected collateral value: %s", value)
	}
	held, err := h.bank.Balance(bank.DscSymbol, alice)
	if err != nil {
		t.Fatalf("dsc balance: %v", err)
	}
	if held.Cmp(wei(500)) != 0 {
		t.Fatalf("no partial mint may survive, got %s", held)
	}
}

func TestDepositAndRedeemRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(3))

	if err := h.engine.DepositCollateral(alice, "WETH", wei(3)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.RedeemCollateral(alice, "WETH", wei(3)); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	held, err := h.bank.Balance("WETH", alice)
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	if held.Cmp(wei(3)) != 0 {
		t.Fatalf("round trip should restore the wallet balance, got %s", held)
	}
	health, err := h.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(maxHealthFactor) != 0 {
		t.Fatalf("debt-free health factor should be the sentinel, got %s", health)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)

	err := h.engine.RedeemCollateral(alice, "WETH", wei(1))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
}

func TestRedeemBreakingHealthReverts(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(1))

	if err := h.engine.DepositCollateral(alice, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.MintDsc(alice, wei(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Withdrawing 0.8 WETH leaves $400 collateral against 500 debt.
	redeem := new(big.Int).Quo(new(big.Int).Mul(wei(8), precision), wei(10))
	err := h.engine.RedeemCollateral(alice, "WETH", redeem)
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected solvency failure, got %v", err)
	}

	balance, err := h.engine.CollateralBalance(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Cmp(wei(1)) != 0 {
		t.Fatalf("withdrawal should have been discarded, got %s", balance)
	}
	held, err := h.bank.Balance("WETH", alice)
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	if held.Sign() != 0 {
		t.Fatalf("bank transfer should have been unwound, got %s", held)
	}
}

func TestDepositCollateralAndMintDsc(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(1))

	if err := h.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(1), wei(900)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	debt, value, err := h.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(900)) != 0 || value.Cmp(wei(2_000)) != 0 {
		t.Fatalf("unexpected position: debt=%s value=%s", debt, value)
	}
}

func TestDepositCollateralAndMintDscAtomicity(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(1))

	err := h.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(1), wei(1_500))
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected solvency failure, got %v", err)
	}
	balance, err := h.engine.CollateralBalance(alice, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("deposit leg should have been discarded with the mint, got %s", balance)
	}
	held, err := h.bank.Balance("WETH", alice)
	if err != nil {
		t.Fatalf("bank balance: %v", err)
	}
	if held.Cmp(wei(1)) != 0 {
		t.Fatalf("wallet should be restored, got %s", held)
	}
}

func TestBurnDsc(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(1))

	if err := h.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(1), wei(600)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if err := h.engine.BurnDsc(alice, wei(200)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	debt, _, err := h.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wei(400)) != 0 {
		t.Fatalf("unexpected debt after burn: %s", debt)
	}
	supply, err := h.bank.Supply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(wei(400)) != 0 {
		t.Fatalf("supply should shrink with the burn, got %s", supply)
	}

	if err := h.engine.BurnDsc(alice, wei(1_000)); !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("expected insufficient debt, got %v", err)
	}
}

func TestRedeemCollateralForDsc(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(2))

	if err := h.engine.DepositCollateralAndMintDsc(alice, "WETH", wei(2), wei(1_000)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if err := h.engine.RedeemCollateralForDsc(alice, "WETH", wei(1), wei(1_000)); err != nil {
		t.Fatalf("redeem for dsc: %v", err)
	}

	debt, value, err := h.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt should be cleared, got %s", debt)
	}
	if value.Cmp(wei(2_000)) != 0 {
		t.Fatalf("unexpected remaining collateral value: %s", value)
	}
}

func TestQueriesAreTotalOnEmptyState(t *testing.T) {
	h := newTestHarness(t)
	nobody := makeAddress(0x7f)

	value, err := h.engine.AccountCollateralValue(nobody)
	if err != nil {
		t.Fatalf("account collateral value: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("expected zero value, got %s", value)
	}

	debt, collateral, err := h.engine.AccountInformation(nobody)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Sign() != 0 || collateral.Sign() != 0 {
		t.Fatalf("expected zero position, got debt=%s value=%s", debt, collateral)
	}

	health, err := h.engine.HealthFactor(nobody)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if health.Cmp(maxHealthFactor) != 0 {
		t.Fatalf("expected sentinel health factor, got %s", health)
	}

	balance, err := h.engine.CollateralBalance(nobody, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", balance)
	}

	feed, err := h.engine.PriceFeed("WETH")
	if err != nil {
		t.Fatalf("price feed: %v", err)
	}
	if feed != "eth-usd" {
		t.Fatalf("unexpected feed: %s", feed)
	}
}

func TestQueriesOnEmptyRegistry(t *testing.T) {
	custody := makeAddress(0x01)
	engine, err := NewEngine(nil, nil, custody, Params{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(state.NewManager(storage.NewMemDB()))

	nobody := makeAddress(0x7f)
	value, err := engine.AccountCollateralValue(nobody)
	if err != nil {
		t.Fatalf("account collateral value: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("expected zero value, got %s", value)
	}
	if assets := engine.ApprovedAssets(); len(assets) != 0 {
		t.Fatalf("expected empty registry, got %v", assets)
	}
}

func TestUsdConversions(t *testing.T) {
	h := newTestHarness(t)

	value, err := h.engine.UsdValue("WETH", wei(3))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if value.Cmp(wei(6_000)) != 0 {
		t.Fatalf("unexpected usd value: %s", value)
	}

	amount, err := h.engine.TokenAmountFromUsd("WETH", wei(1_000))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	half := new(big.Int).Quo(precision, big.NewInt(2))
	if amount.Cmp(half) != 0 {
		t.Fatalf("unexpected token amount: %s", amount)
	}

	if _, err := h.engine.UsdValue("DOGE", wei(1)); !errors.Is(err, ErrAssetNotApproved) {
		t.Fatalf("expected unapproved asset, got %v", err)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestPausedEngineRejectsMutations(t *testing.T) {
	h := newTestHarness(t)
	h.engine.SetPauses(pauseAll{})
	alice := makeAddress(0x10)

	if err := h.engine.DepositCollateral(alice, "WETH", wei(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(ev Event) { r.events = append(r.events, ev) }

func TestEventsEmittedOnSuccessOnly(t *testing.T) {
	h := newTestHarness(t)
	emitter := &recordingEmitter{}
	h.engine.SetEmitter(emitter)
	alice := makeAddress(0x10)
	h.fund(t, alice, "WETH", wei(1))

	if err := h.engine.DepositCollateral(alice, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.MintDsc(alice, wei(5_000)); err == nil {
		t.Fatal("expected over-mint to fail")
	}

	if len(emitter.events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(emitter.events))
	}
	if emitter.events[0].Type != TypeCollateralDeposited {
		t.Fatalf("unexpected event type %q", emitter.events[0].Type)
	}
}
