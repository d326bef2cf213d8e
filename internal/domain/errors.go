package domain

import "errors"

var (
	ErrDuplicatePosition = errors.New("position already open for symbol")
	ErrNoSuchPosition    = errors.New("no open position for symbol")
	ErrDustBlacklisted   = errors.New("symbol is dust-blacklisted for account")
	ErrCoolingDown       = errors.New("symbol is cooling down for account")
	ErrNotFound          = errors.New("not found")
	ErrNonceRegression   = errors.New("nonce counter would regress")
)

// ErrorKind classifies a broker failure so callers can pick the right
// propagation policy: retry, skip the symbol, or halt the account.
type ErrorKind int

const (
	// KindNone means the error is nil or an unclassified local failure.
	KindNone ErrorKind = iota

	// KindTransient covers timeouts, rate limits, and 5xx responses.
	// Retried with backoff; never surfaced unless retries are exhausted.
	KindTransient

	// KindSymbolUnavailable covers delisted or unknown symbols. Logged at
	// low severity and the symbol is skipped for the rest of the cycle,
	// never retried.
	KindSymbolUnavailable

	// KindAuthFailure covers bad credentials, permission errors, and nonce
	// regressions. Fatal for the account's broker connection.
	KindAuthFailure

	// KindInvalidOrder covers rejected order parameters (size too small,
	// bad precision). Not retryable but scoped to one order.
	KindInvalidOrder
)

// String returns the lowercase name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindSymbolUnavailable:
		return "symbol_unavailable"
	case KindAuthFailure:
		return "auth_failure"
	case KindInvalidOrder:
		return "invalid_order"
	default:
		return "none"
	}
}

// BrokerError wraps a broker failure with its classification.
type BrokerError struct {
	Kind ErrorKind
	Err  error
}

func (e *BrokerError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *BrokerError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from an error chain. Unwrapped errors report
// KindNone.
func KindOf(err error) ErrorKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindNone
}
