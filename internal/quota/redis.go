package quota

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mouseland/aistudio/internal/identity"
)

// consumeScript initializes an absent counter to the full allotment,
// then decrements only while positive. Runs atomically inside redis, so
// concurrent submissions from the same guest cannot double-spend.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  v = tonumber(ARGV[1])
else
  v = tonumber(v)
end
if v <= 0 then
  return -1
end
v = v - 1
redis.call('SET', KEYS[1], v)
return v
`)

// RedisLedger persists guest counters in redis, surviving API restarts.
type RedisLedger struct {
	rdb       *redis.Client
	allotment int
}

func NewRedisLedger(rdb *redis.Client, allotment int) *RedisLedger {
	return &RedisLedger{rdb: rdb, allotment: allotment}
}

func redisKey(identKey, kind string) string {
	return "quota:" + identKey + ":" + kind
}

func (l *RedisLedger) Remaining(ctx context.Context, ident identity.Identity, kind string) (int, error) {
	if ident.Unlimited() {
		return Unlimited, nil
	}
	v, err := l.rdb.Get(ctx, redisKey(ident.Key, kind)).Result()
	if err == redis.Nil {
		return l.allotment, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (l *RedisLedger) Consume(ctx context.Context, ident identity.Identity, kind string) (int, error) {
	if ident.Unlimited() {
		return Unlimited, nil
	}
	n, err := consumeScript.Run(ctx, l.rdb,
		[]string{redisKey(ident.Key, kind)},
		l.allotment,
	).Int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrExceeded
	}
	return n, nil
}
