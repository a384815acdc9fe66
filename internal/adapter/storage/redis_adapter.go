package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

const (
	idempotencyKeyPrefix = "idem:"
	defaultClaimTTL      = 24 * time.Hour
	defaultStreamMaxLen  = 100_000
)

var (
	_ port.IdempotencyStore = (*RedisAdapter)(nil)
	_ port.EventPublisher   = (*RedisAdapter)(nil)
)

// claimScript sets an empty placeholder when the key is free. Otherwise it
// returns whatever the first caller stored, empty while still in flight.
var claimScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])

if redis.call('SET', key, '', 'NX', 'PX', ttl) then
	return {1, ''}
end

local current = redis.call('GET', key)
if not current then
	current = ''
end

return {0, current}
`)

// RedisAdapter keeps request claims for idempotent purchases and publishes
// lifecycle events to a stream.
type RedisAdapter struct {
	client *redis.Client
	stream string
	maxLen int64
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, stream string, maxLen int64, ttl time.Duration) *RedisAdapter {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RedisAdapter{client: client, stream: stream, maxLen: maxLen, ttl: ttl}
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAdapter) Claim(ctx context.Context, key string) (string, bool, error) {
	res, err := claimScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, r.ttl.Milliseconds()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("claim %s: %w", key, err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("claim %s: unexpected reply %v", key, res)
	}

	claimed, _ := res[0].(int64)
	value, _ := res[1].(string)
	return value, claimed == 1, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, idempotencyKeyPrefix+key, value, r.ttl).Err()
}

func (r *RedisAdapter) Abandon(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) Publish(ctx context.Context, event domain.Event) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":             event.ID.String(),
			"type":           string(event.Type),
			"transaction_id": event.TransactionID.String(),
			"buyer_id":       event.BuyerID.String(),
			"seller_id":      event.SellerID.String(),
			"status":         string(event.Status),
			"occurred_at":    event.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
