package metering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultFreeHoldTTL bounds how long an admitted free job keeps its slot
// reserved when it never settles, e.g. because it failed.
const DefaultFreeHoldTTL = 30 * time.Minute

// holdScript reserves one free use for an admitted job.
// KEYS[1] usage counter, KEYS[2] hold zset
// ARGV[1] daily limit, ARGV[2] now (ms), ARGV[3] hold cutoff (ms),
// ARGV[4] hold member, ARGV[5] reset (unix s)
// Returns {left, held}: left counts unreserved uses before this one.
var holdScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
local limit = tonumber(ARGV[1])
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local left = limit - used - redis.call('ZCARD', KEYS[2])
if left <= 0 then
  return {0, 0}
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
redis.call('EXPIREAT', KEYS[2], ARGV[5])
return {left, 1}
`)

// FreeTier tracks per-owner, per-day usage of free operation classes in Redis.
// Counters reset at UTC midnight through EXPIREAT, so they survive restarts
// and are shared by every API and worker instance.
type FreeTier struct {
	redis   *redis.Client
	limit   int64
	classes map[string]struct{}
	holdTTL time.Duration
	now     func() time.Time
}

func NewFreeTier(redisClient *redis.Client, dailyLimit int, classes []string) *FreeTier {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return &FreeTier{
		redis:   redisClient,
		limit:   int64(dailyLimit),
		classes: set,
		holdTTL: DefaultFreeHoldTTL,
		now:     time.Now,
	}
}

// Eligible reports whether class (a price key) is served by the free tier.
func (f *FreeTier) Eligible(class string) bool {
	if f == nil || f.limit <= 0 {
		return false
	}
	_, ok := f.classes[class]
	return ok
}

func (f *FreeTier) key(ownerID, class string, day time.Time) string {
	return fmt.Sprintf("freetier:%s:%s:%s", ownerID, class, day.Format("2006-01-02"))
}

func (f *FreeTier) holdKey(ownerID, class string, day time.Time) string {
	return fmt.Sprintf("freetier:hold:%s:%s:%s", ownerID, class, day.Format("2006-01-02"))
}

func nextMidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// Hold reserves one of today's free uses for a job being admitted. Uses held
// by jobs that are admitted but not yet settled are not handed out again, so
// concurrent admissions cannot oversubscribe the allowance. left is the
// number of unreserved uses before this one; held is false when none remain.
func (f *FreeTier) Hold(ctx context.Context, ownerID, class string) (left int64, held bool, err error) {
	now := f.now().UTC()
	vals, err := holdScript.Run(ctx, f.redis,
		[]string{f.key(ownerID, class, now), f.holdKey(ownerID, class, now)},
		f.limit,
		now.UnixMilli(),
		now.Add(-f.holdTTL).UnixMilli(),
		uuid.New().String(),
		nextMidnightUTC(now).Unix(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("hold free tier use: %w", err)
	}
	return vals[0], vals[1] == 1, nil
}

// Consume takes one free use for referenceID. It returns false when today's
// allowance is exhausted. Consuming the same reference twice counts once.
func (f *FreeTier) Consume(ctx context.Context, ownerID, class, referenceID string) (bool, error) {
	now := f.now().UTC()
	reset := nextMidnightUTC(now)

	marker := "freetier:ref:" + referenceID
	fresh, err := f.redis.SetNX(ctx, marker, 1, reset.Sub(now)+24*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("mark free tier use: %w", err)
	}
	if !fresh {
		return true, nil
	}

	key := f.key(ownerID, class, now)
	pipe := f.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, reset)
	// The use is now counted, so one admission hold can go.
	pipe.ZPopMin(ctx, f.holdKey(ownerID, class, now), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		f.redis.Del(ctx, marker)
		return false, fmt.Errorf("consume free tier: %w", err)
	}

	if incr.Val() > f.limit {
		// Lost a race for the last free slot; give it back.
		pipe := f.redis.TxPipeline()
		pipe.Decr(ctx, key)
		pipe.Del(ctx, marker)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("release free tier: %w", err)
		}
		return false, nil
	}
	return true, nil
}
