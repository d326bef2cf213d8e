package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// DustSet implements domain.DustMirror on a Redis set per account. Entries
// carry no TTL: a dusted symbol stays blacklisted until an operator removes
// it with SREM, which is the supported out-of-band clearing path.
type DustSet struct {
	rdb *redis.Client
}

var _ domain.DustMirror = (*DustSet)(nil)

// NewDustSet creates a DustSet backed by the given Client.
func NewDustSet(c *Client) *DustSet {
	return &DustSet{rdb: c.Underlying()}
}

func dustKey(account string) string {
	return "cyclebot:dust:" + account
}

// Add mirrors one blacklisted symbol.
func (d *DustSet) Add(ctx context.Context, account, symbol string) error {
	if err := d.rdb.SAdd(ctx, dustKey(account), symbol).Err(); err != nil {
		return fmt.Errorf("redis: dust add %s/%s: %w", account, symbol, err)
	}
	return nil
}

// Load returns the account's mirrored blacklist.
func (d *DustSet) Load(ctx context.Context, account string) ([]string, error) {
	symbols, err := d.rdb.SMembers(ctx, dustKey(account)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: dust load %s: %w", account, err)
	}
	return symbols, nil
}

// Remove clears one symbol from the mirror, the programmatic equivalent of
// the operator's SREM.
func (d *DustSet) Remove(ctx context.Context, account, symbol string) error {
	if err := d.rdb.SRem(ctx, dustKey(account), symbol).Err(); err != nil {
		return fmt.Errorf("redis: dust remove %s/%s: %w", account, symbol, err)
	}
	return nil
}
