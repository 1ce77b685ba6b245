package delegation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisWindowBackend backs the rolling-window charge history with a
// Redis sorted set per (payer, charger) pair: score is the charge's
// unix-nano timestamp, member encodes the amount. An operator running
// several query/inspection processes against one kernel's persisted
// state may prefer this over the default in-memory backend; the kernel
// itself still runs single-threaded and still defaults to in-memory
// per the rate-window bookkeeping design.
type RedisWindowBackend struct {
	client *goredis.Client
	prefix string
}

// NewRedisWindowBackend connects to url (format
// redis://[:password@]host:port[/db]) and returns a backend using keys
// prefixed with prefix (default "agora:delegation:" if empty).
func NewRedisWindowBackend(url, prefix string) (*RedisWindowBackend, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("delegation: invalid redis url: %w", err)
	}
	if prefix == "" {
		prefix = "agora:delegation:"
	}
	return &RedisWindowBackend{client: goredis.NewClient(opts), prefix: prefix}, nil
}

func (b *RedisWindowBackend) key(payer, charger string) string {
	return b.prefix + payer + ":" + charger
}

// Record adds one charge entry, scored by at's unix-nano time.
func (b *RedisWindowBackend) Record(payer, charger string, amount int64, at time.Time) error {
	ctx := context.Background()
	key := b.key(payer, charger)
	score := float64(at.UnixNano())
	member := strconv.FormatInt(score2member(score), 10) + ":" + strconv.FormatInt(amount, 10)

	if err := b.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("delegation: zadd: %w", err)
	}
	// Cap retained entries per FM-5: keep only the most recent
	// MaxWindowEntries members.
	if err := b.client.ZRemRangeByRank(ctx, key, 0, -int64(MaxWindowEntries)-1).Err(); err != nil {
		return fmt.Errorf("delegation: trim window: %w", err)
	}
	return nil
}

// Sum totals charges scored at or after since, pruning older entries
// first.
func (b *RedisWindowBackend) Sum(payer, charger string, since time.Time) (int64, error) {
	ctx := context.Background()
	key := b.key(payer, charger)

	if err := b.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(since.UnixNano()-1, 10)).Err(); err != nil {
		return 0, fmt.Errorf("delegation: prune window: %w", err)
	}

	members, err := b.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("delegation: zrange: %w", err)
	}

	var total int64
	for _, m := range members {
		amount, ok := amountFromMember(m)
		if ok {
			total += amount
		}
	}
	return total, nil
}

func score2member(score float64) int64 { return int64(score) }

func amountFromMember(member string) (int64, bool) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == ':' {
			amount, err := strconv.ParseInt(member[i+1:], 10, 64)
			return amount, err == nil
		}
	}
	return 0, false
}

// Close releases the underlying Redis client.
func (b *RedisWindowBackend) Close() error {
	return b.client.Close()
}
