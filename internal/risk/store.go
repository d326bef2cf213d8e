// Package risk owns per-account position state: the open-position map, the
// dust blacklist, and the re-entry cooldown ledger. One Store serves every
// account; all state is keyed by (account, symbol) so accounts never share
// positions, blacklists, or cooldowns.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// CloseOutcome reports how Close disposed of a position.
type CloseOutcome struct {
	Position domain.Position
	// Dusted is true when the residual value fell below the dust floor and
	// the symbol was blacklisted instead of cooled down.
	Dusted bool
	// PnL is the realized quote-currency profit or loss, zero for orphans
	// with no known cost basis.
	PnL float64
}

type key struct {
	account string
	symbol  string
}

// Store is the in-memory authority for open positions, dust blacklists, and
// cooldowns. An optional CheckpointStore persists positions across restarts
// and an optional DustMirror exposes the blacklist for out-of-band clearing;
// both are written best-effort and never block a trading decision.
type Store struct {
	mu        sync.RWMutex
	positions map[key]domain.Position
	dust      map[key]struct{}
	cooldowns map[key]time.Time

	dustFloor float64
	cooldown  time.Duration

	checkpoint domain.CheckpointStore
	mirror     domain.DustMirror
	logger     *slog.Logger
	now        func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithCheckpoint attaches a persistent checkpoint store.
func WithCheckpoint(cs domain.CheckpointStore) StoreOption {
	return func(s *Store) { s.checkpoint = cs }
}

// WithDustMirror attaches an external mirror of the dust blacklist.
func WithDustMirror(m domain.DustMirror) StoreOption {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the time source, used by cooldown tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore builds a Store. dustFloor is the quote-currency value below which
// a closed position's residue blacklists the symbol; cooldown is the re-entry
// hold-off after a normal close.
func NewStore(dustFloor float64, cooldown time.Duration, logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		positions: make(map[key]domain.Position),
		dust:      make(map[key]struct{}),
		cooldowns: make(map[key]time.Time),
		dustFloor: dustFloor,
		cooldown:  cooldown,
		logger:    logger.With(slog.String("component", "risk")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads checkpointed positions and mirrored dust entries for an
// account. Positions without an entry price are marked orphaned. Called once
// per account before its first cycle.
func (s *Store) Restore(ctx context.Context, account string) error {
	if s.checkpoint != nil {
		positions, err := s.checkpoint.LoadOpen(ctx, account)
		if err != nil {
			return fmt.Errorf("risk: restoring positions for %s: %w", account, err)
		}
		s.mu.Lock()
		for _, pos := range positions {
			if pos.EntryPrice <= 0 {
				pos.Orphaned = true
			}
			s.positions[key{account, pos.Symbol}] = pos
		}
		s.mu.Unlock()
		if len(positions) > 0 {
			s.logger.InfoContext(ctx, "restored positions",
				slog.String("account", account), slog.Int("count", len(positions)))
		}
	}

	if s.mirror != nil {
		symbols, err := s.mirror.Load(ctx, account)
		if err != nil {
			// Mirror reads are best-effort; a missing mirror only loses
			// blacklist entries from previous runs.
			s.logger.WarnContext(ctx, "dust mirror load failed",
				slog.String("account", account), slog.String("error", err.Error()))
			return nil
		}
		s.mu.Lock()
		for _, sym := range symbols {
			s.dust[key{account, sym}] = struct{}{}
		}
		s.mu.Unlock()
	}
	return nil
}

// Open records a new position. Opening a symbol the account already holds
// returns ErrDuplicatePosition; a dust-blacklisted symbol returns
// ErrDustBlacklisted and an active cooldown returns ErrCoolingDown. The
// store enforces these itself so no caller can slip past the engine's entry
// gates.
func (s *Store) Open(ctx context.Context, pos domain.Position) error {
	k := key{pos.Account, pos.Symbol}

	s.mu.Lock()
	if _, exists := s.positions[k]; exists {
		s.mu.Unlock()
		return fmt.Errorf("risk: %s already holds %s: %w", pos.Account, pos.Symbol, domain.ErrDuplicatePosition)
	}
	if _, dusted := s.dust[k]; dusted {
		s.mu.Unlock()
		return fmt.Errorf("risk: %s rejected for %s: %w", pos.Symbol, pos.Account, domain.ErrDustBlacklisted)
	}
	if until, ok := s.cooldowns[k]; ok {
		if s.now().Before(until) {
			s.mu.Unlock()
			return fmt.Errorf("risk: %s rejected for %s: %w", pos.Symbol, pos.Account, domain.ErrCoolingDown)
		}
		delete(s.cooldowns, k)
	}
	if pos.TrailingHigh < pos.EntryPrice {
		pos.TrailingHigh = pos.EntryPrice
	}
	s.positions[k] = pos
	s.mu.Unlock()

	s.checkpointSave(ctx, pos)
	return nil
}

// Adopt records a position discovered on the broker that the store has no
// entry for, marking it orphaned when the cost basis is unknown.
func (s *Store) Adopt(ctx context.Context, pos domain.Position) error {
	if pos.EntryPrice <= 0 {
		pos.Orphaned = true
	}
	return s.Open(ctx, pos)
}

// Close removes a position after its exit fill. The residual value at
// exitPrice decides disposal: strictly below the dust floor the symbol is
// blacklisted until removed out-of-band, otherwise a re-entry cooldown
// starts. Closing an unknown position returns ErrNoSuchPosition.
func (s *Store) Close(ctx context.Context, account, symbol string, exitPrice float64) (CloseOutcome, error) {
	k := key{account, symbol}

	s.mu.Lock()
	pos, exists := s.positions[k]
	if !exists {
		s.mu.Unlock()
		return CloseOutcome{}, fmt.Errorf("risk: %s holds no %s: %w", account, symbol, domain.ErrNoSuchPosition)
	}
	delete(s.positions, k)

	out := CloseOutcome{Position: pos}
	if !pos.Orphaned {
		out.PnL = (exitPrice - pos.EntryPrice) * pos.Quantity
	}
	if pos.Value(exitPrice) < s.dustFloor {
		out.Dusted = true
		s.dust[k] = struct{}{}
	} else {
		s.cooldowns[k] = s.now().Add(s.cooldown)
	}
	s.mu.Unlock()

	s.checkpointDelete(ctx, account, symbol)
	if out.Dusted && s.mirror != nil {
		if err := s.mirror.Add(ctx, account, symbol); err != nil {
			s.logger.WarnContext(ctx, "dust mirror write failed",
				slog.String("account", account), slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// Get returns the position an account holds in symbol, if any.
func (s *Store) Get(account, symbol string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[key{account, symbol}]
	return pos, ok
}

// List returns the account's open positions in unspecified order.
func (s *Store) List(account string) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for k, pos := range s.positions {
		if k.account == account {
			out = append(out, pos)
		}
	}
	return out
}

// Count returns the number of positions the account holds.
func (s *Store) Count(account string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.positions {
		if k.account == account {
			n++
		}
	}
	return n
}

// IsBlacklisted reports whether the symbol is on the account's dust
// blacklist. Entries never expire within a run.
func (s *Store) IsBlacklisted(account, symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dust[key{account, symbol}]
	return ok
}

// ClearBlacklist removes one symbol from the account's dust blacklist. This
// is the out-of-band path, exposed via the admin surface only. Clearing a
// symbol that is not blacklisted returns ErrNotFound so the operator learns
// the entry never existed.
func (s *Store) ClearBlacklist(account, symbol string) error {
	k := key{account, symbol}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dust[k]; !ok {
		return fmt.Errorf("risk: no dust entry for %s on %s: %w", symbol, account, domain.ErrNotFound)
	}
	delete(s.dust, k)
	return nil
}

// IsCoolingDown reports whether the symbol's re-entry cooldown is still
// active. Expired entries are pruned on read.
func (s *Store) IsCoolingDown(account, symbol string) bool {
	k := key{account, symbol}

	s.mu.RLock()
	until, ok := s.cooldowns[k]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if s.now().Before(until) {
		return true
	}

	s.mu.Lock()
	if cur, ok := s.cooldowns[k]; ok && !s.now().Before(cur) {
		delete(s.cooldowns, k)
	}
	s.mu.Unlock()
	return false
}

// MarkSold registers a re-entry cooldown for the symbol without touching any
// open position. Close does this implicitly for normal exits; MarkSold covers
// the paths where no position survives, such as a reversed entry. A
// non-positive ttl falls back to the configured cooldown.
func (s *Store) MarkSold(account, symbol string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cooldown
	}
	s.mu.Lock()
	s.cooldowns[key{account, symbol}] = s.now().Add(ttl)
	s.mu.Unlock()
}

// Ratchet raises the position's trailing-high watermark to price if it is a
// new high, returning the updated position. The watermark never moves down.
func (s *Store) Ratchet(ctx context.Context, account, symbol string, price float64) (domain.Position, bool) {
	k := key{account, symbol}

	s.mu.Lock()
	pos, ok := s.positions[k]
	if !ok {
		s.mu.Unlock()
		return domain.Position{}, false
	}
	if price > pos.TrailingHigh {
		pos.TrailingHigh = price
		s.positions[k] = pos
		s.mu.Unlock()
		s.checkpointSave(ctx, pos)
		return pos, true
	}
	s.mu.Unlock()
	return pos, true
}

// MarkUrgent flags a position for an exit re-attempt at the top of the next
// cycle, used when a slippage reversal failed to flatten it.
func (s *Store) MarkUrgent(ctx context.Context, account, symbol string, urgent bool) {
	k := key{account, symbol}

	s.mu.Lock()
	pos, ok := s.positions[k]
	if !ok {
		s.mu.Unlock()
		return
	}
	pos.UrgentRecheck = urgent
	s.positions[k] = pos
	s.mu.Unlock()

	s.checkpointSave(ctx, pos)
}

func (s *Store) checkpointSave(ctx context.Context, pos domain.Position) {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.SavePosition(ctx, pos); err != nil {
		s.logger.WarnContext(ctx, "checkpoint save failed",
			slog.String("account", pos.Account), slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()))
	}
}

func (s *Store) checkpointDelete(ctx context.Context, account, symbol string) {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.DeletePosition(ctx, account, symbol); err != nil {
		s.logger.WarnContext(ctx, "checkpoint delete failed",
			slog.String("account", account), slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}
}
