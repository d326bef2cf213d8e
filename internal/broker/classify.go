package broker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// messagePatterns maps lower-cased substrings of broker error messages to an
// ErrorKind. The table is checked in order; the first hit wins, so the more
// specific auth patterns come before the generic ones. Keeping this
// data-driven lets the table be unit-tested in isolation from network code.
var messagePatterns = []struct {
	substr string
	kind   domain.ErrorKind
}{
	// Unknown or delisted symbols. Each broker phrases this differently.
	{"invalid product", domain.KindSymbolUnavailable},
	{"productid invalid", domain.KindSymbolUnavailable},
	{"product not found", domain.KindSymbolUnavailable},
	{"unknown asset pair", domain.KindSymbolUnavailable},
	{"unknown symbol", domain.KindSymbolUnavailable},
	{"no key", domain.KindSymbolUnavailable}, // "no key <SYMBOL> was found"
	{"delisted", domain.KindSymbolUnavailable},

	// Credential and permission failures; fatal for the connection.
	{"invalid nonce", domain.KindAuthFailure},
	{"invalid key", domain.KindAuthFailure},
	{"invalid signature", domain.KindAuthFailure},
	{"permission denied", domain.KindAuthFailure},
	{"unauthorized", domain.KindAuthFailure},
	{"api key", domain.KindAuthFailure},

	// Order parameter rejections; scoped to one order, not retried.
	{"order minimum not met", domain.KindInvalidOrder},
	{"insufficient funds", domain.KindInvalidOrder},
	{"volume minimum", domain.KindInvalidOrder},
	{"size is too small", domain.KindInvalidOrder},
	{"size is too accurate", domain.KindInvalidOrder},

	// Transient conditions worth retrying.
	{"rate limit", domain.KindTransient},
	{"too many requests", domain.KindTransient},
	{"timeout", domain.KindTransient},
	{"timed out", domain.KindTransient},
	{"temporarily unavailable", domain.KindTransient},
	{"service unavailable", domain.KindTransient},
	{"internal error", domain.KindTransient},
	{"connection reset", domain.KindTransient},
}

// ClassifyMessage maps a broker error message to an ErrorKind. Matching is
// case-insensitive substring lookup against the pattern table; unmatched
// messages classify as KindTransient so unknown failures err on the side of
// a bounded retry rather than a silent skip.
func ClassifyMessage(msg string) domain.ErrorKind {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	if normalized == "" {
		return domain.KindNone
	}
	for _, p := range messagePatterns {
		if strings.Contains(normalized, p.substr) {
			return p.kind
		}
	}
	return domain.KindTransient
}

// ClassifyStatus maps an HTTP status code to an ErrorKind. Message-level
// classification takes precedence when a body is available; this covers
// responses with no parseable error payload.
func ClassifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.KindTransient
	case code >= 500:
		return domain.KindTransient
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.KindAuthFailure
	case code == http.StatusNotFound:
		return domain.KindSymbolUnavailable
	case code >= 400:
		return domain.KindInvalidOrder
	default:
		return domain.KindNone
	}
}

// WrapTransport wraps a transport-level error as transient. A cancelled
// context is passed through untouched so shutdown is never retried.
func WrapTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &domain.BrokerError{Kind: domain.KindTransient, Err: err}
	}
	return &domain.BrokerError{Kind: domain.KindTransient, Err: err}
}

// WrapMessage builds a classified BrokerError from a broker-reported message.
func WrapMessage(msg string, err error) error {
	return &domain.BrokerError{Kind: ClassifyMessage(msg), Err: err}
}

// WrapStatus builds a classified BrokerError from an HTTP status code,
// preferring the message classification when the body carried one.
func WrapStatus(code int, msg string, err error) error {
	kind := ClassifyStatus(code)
	if msg != "" {
		if mk := ClassifyMessage(msg); mk != domain.KindNone {
			kind = mk
		}
	}
	return &domain.BrokerError{Kind: kind, Err: err}
}
