package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTooSmallToClose       = errors.New("position too small to close")
)

// Agent Errors
var (
	ErrMissingCredentials    = errors.New("missing credentials")
	ErrInstrumentUnavailable = errors.New("instrument unavailable")
	ErrDuplicateAllocation   = errors.New("duplicate fund allocation")
	ErrOracleUnavailable     = errors.New("oracle unavailable")
	ErrStoreFailure          = errors.New("store failure")
	ErrSchedulerRunning      = errors.New("scheduler already running")
)
