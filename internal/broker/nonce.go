package broker

import (
	"sync"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// NonceCounter issues the strictly increasing nonces some brokers require on
// every signed request. It is scoped to one adapter instance (one account ×
// broker connection), never shared process-wide, so two accounts on the same
// broker can never collide.
type NonceCounter struct {
	mu   sync.Mutex
	last int64
}

// NewNonceCounter returns a counter seeded from wall-clock microseconds.
func NewNonceCounter() *NonceCounter {
	return &NonceCounter{last: time.Now().UnixMicro()}
}

// Reseed advances the counter to the current wall clock if that is ahead of
// the last issued value. Adapters call this right before their first live
// request to close the gap between construction and first use. Reseed never
// moves the counter backwards.
func (n *NonceCounter) Reseed() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now := time.Now().UnixMicro(); now > n.last {
		n.last = now
	}
}

// Next returns the next nonce. Concurrent callers on the same connection
// each receive a distinct, strictly increasing value.
func (n *NonceCounter) Next() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	next := time.Now().UnixMicro()
	if next <= n.last {
		next = n.last + 1
	}
	if next <= n.last {
		// int64 wrap would take ~300k years of microseconds, but a broken
		// clock could in principle get us here. Fatal, never retried.
		return 0, domain.ErrNonceRegression
	}
	n.last = next
	return next, nil
}
