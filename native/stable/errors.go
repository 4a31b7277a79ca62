package stable

import "errors"

var (
	// ErrNilState signals the engine was used before SetState wired a store.
	ErrNilState = errors.New("stable engine: state not configured")
	// ErrNilOracle signals a price lookup was attempted without an oracle.
	ErrNilOracle = errors.New("stable engine: oracle not configured")
	// ErrNilCapability signals a transfer or issued-asset capability is missing.
	ErrNilCapability = errors.New("stable engine: asset capability not configured")

	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("stable engine: amount must be positive")
	// ErrAssetNotApproved rejects assets absent from the registry.
	ErrAssetNotApproved = errors.New("stable engine: asset not approved")
	// ErrMismatchedRegistry rejects initialisation with unequal asset and
	// feed list lengths.
	ErrMismatchedRegistry = errors.New("stable engine: asset and feed lists must have equal length")

	// ErrInsufficientCollateral marks a withdrawal or seizure that exceeds
	// the deposited balance. The operation fails rather than wrapping.
	ErrInsufficientCollateral = errors.New("stable engine: insufficient collateral balance")
	// ErrInsufficientDebt marks a burn that exceeds the outstanding debt.
	ErrInsufficientDebt = errors.New("stable engine: burn exceeds outstanding debt")

	// ErrTransferFailed wraps any failure reported by an external transfer,
	// mint or burn capability.
	ErrTransferFailed = errors.New("stable engine: external transfer failed")

	// ErrHealthFactorBroken marks an operation that would leave a position
	// below the minimum health factor.
	ErrHealthFactorBroken = errors.New("stable engine: health factor below minimum")
	// ErrPositionHealthy rejects liquidation of a position at or above the
	// minimum health factor.
	ErrPositionHealthy = errors.New("stable engine: target position not liquidatable")
	// ErrLiquidationIneffective rejects a liquidation that did not strictly
	// improve the target's health factor.
	ErrLiquidationIneffective = errors.New("stable engine: liquidation did not improve target health factor")

	// ErrReentrantCall rejects a nested mutating call on the same engine.
	ErrReentrantCall = errors.New("stable engine: reentrant call rejected")
	// ErrPaused rejects mutating operations while the module is paused.
	ErrPaused = errors.New("stable engine: operations paused")
)
