package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// quotaKeyTTL keeps a bucket around for its own hour plus a grace hour; the
// bucket key itself rolls over, so no reset job is needed.
const quotaKeyTTL = 2 * time.Hour

// checkAndIncrScript performs the quota check and increment as one atomic
// Redis operation. Two concurrent dispatch passes must never both observe
// "room available" and both send, so GET/compare/INCR cannot be separate
// round trips. Returns {allowed, count}.
var checkAndIncrScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return {0, count}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {1, count}
`)

// QuotaLedger tracks per-user, per-notification-type, per-channel send
// counts in rolling hour buckets and answers "is one more send allowed".
type QuotaLedger struct {
	client *Client
	logger *zap.Logger
}

// NewQuotaLedger creates a quota ledger on the given client.
func NewQuotaLedger(client *Client, logger *zap.Logger) *QuotaLedger {
	return &QuotaLedger{
		client: client,
		logger: logger,
	}
}

func quotaKey(userID, notifType, channel string, t time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%s:%s", userID, notifType, channel, t.UTC().Format("2006010215"))
}

// TryConsume atomically checks the counter for the current hour bucket; if
// the count is below maxPerHour it increments and returns true, otherwise it
// returns false with no mutation. Quota exhaustion is an expected outcome,
// not an error.
func (l *QuotaLedger) TryConsume(ctx context.Context, userID, notifType, channel string, maxPerHour int) (bool, error) {
	key := quotaKey(userID, notifType, channel, time.Now())

	res, err := checkAndIncrScript.Run(ctx, l.client.rdb,
		[]string{key},
		maxPerHour,
		int(quotaKeyTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("quota script failed: %w", err)
	}

	allowed := len(res) == 2 && res[0] == 1
	if !allowed {
		l.logger.Debug("channel quota exhausted",
			zap.String("user_id", userID),
			zap.String("type", notifType),
			zap.String("channel", channel),
			zap.Int("max_per_hour", maxPerHour),
		)
	}

	return allowed, nil
}

// Usage returns the current hour bucket's count without mutating it.
func (l *QuotaLedger) Usage(ctx context.Context, userID, notifType, channel string) (int, error) {
	key := quotaKey(userID, notifType, channel, time.Now())

	n, err := l.client.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota get failed: %w", err)
	}

	return n, nil
}
