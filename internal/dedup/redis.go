package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "biomebot:dedup:"
	redisIndexKey  = redisKeyPrefix + "index"
)

// recordScript sets the entry if absent, then indexes it by record time in a
// sorted set. Expired members are dropped from the index and the oldest entries
// beyond the capacity are deleted along with their index members.
//
// KEYS[1] entry key, KEYS[2] index key.
// ARGV[1] now (unix ms), ARGV[2] window (ms), ARGV[3] capacity.
var recordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', window) then
	return 0
end

redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - window)
redis.call('ZADD', KEYS[2], now, KEYS[1])

local excess = redis.call('ZCARD', KEYS[2]) - capacity
if excess > 0 then
	local oldest = redis.call('ZRANGE', KEYS[2], 0, excess - 1)
	redis.call('ZREMRANGEBYRANK', KEYS[2], 0, excess - 1)
	redis.call('DEL', unpack(oldest))
end

redis.call('PEXPIRE', KEYS[2], window)
return 1
`)

// Redis shares dedup state between replicas. One script call checks, records
// and enforces the capacity, so it is atomic like the other backends. The entry
// keys are touched without being declared, so it needs a single-node or
// replicated Redis rather than a cluster.
type Redis struct {
	client   redis.Cmdable
	window   time.Duration
	capacity int
	now      func() time.Time
}

func NewRedis(client redis.Cmdable, cfg Config) *Redis {
	cfg = cfg.withDefaults()
	return &Redis{
		client:   client,
		window:   cfg.Window,
		capacity: cfg.Capacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used to order entries, for tests.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) CheckAndRecord(ctx context.Context, key Key) (Result, error) {
	if err := key.Validate(); err != nil {
		return FirstSeen, err
	}

	recorded, err := recordScript.Run(ctx, r.client,
		[]string{redisKeyPrefix + key.Digest(), redisIndexKey},
		strconv.FormatInt(r.now().UnixMilli(), 10),
		r.window.Milliseconds(),
		r.capacity,
	).Int()
	if err != nil {
		return FirstSeen, fmt.Errorf("redis dedup script (key=%s): %w", key, err)
	}
	if recorded == 0 {
		return DuplicateWithinWindow, nil
	}
	return FirstSeen, nil
}
