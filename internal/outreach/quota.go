package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/provider-outreach/internal/domain"
)

// WindowLimit caps sends per channel across all workers.
type WindowLimit struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerDay    int `yaml:"per_day"`
}

// Checks all windows before incrementing any of them so a denied send never
// consumes quota.
const windowQuotaLua = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secondLimit > 0 and secCurrent + increment > secondLimit then
    return {0, 1}
end
if minuteLimit > 0 and minCurrent + increment > minuteLimit then
    return {0, 2}
end
if dailyLimit > 0 and dayCurrent + increment > dailyLimit then
    return {0, 3}
end

if redis.call("INCRBY", secondKey, increment) == increment then
    redis.call("EXPIRE", secondKey, 2)
end
if redis.call("INCRBY", minuteKey, increment) == increment then
    redis.call("EXPIRE", minuteKey, 120)
end
if redis.call("INCRBY", dailyKey, increment) == increment then
    redis.call("EXPIRE", dailyKey, 90000)
end
return {1, 0}
`

// ErrDailyQuota is returned when a channel's daily cap is spent.
var ErrDailyQuota = errors.New("channel daily quota exhausted")

// RedisQuota is a fleet-wide sliding-bucket quota per channel.
type RedisQuota struct {
	client *redis.Client
	limits map[domain.Channel]WindowLimit
	script *redis.Script
	now    func() time.Time
}

// NewRedisQuota returns a quota over client. Channels without limits are
// unrestricted.
func NewRedisQuota(client *redis.Client, limits map[domain.Channel]WindowLimit) *RedisQuota {
	return &RedisQuota{client: client, limits: limits, script: redis.NewScript(windowQuotaLua), now: time.Now}
}

// Take consumes one send from ch's windows. When denied it returns how
// long to wait before trying again; an exhausted daily window returns
// ErrDailyQuota.
func (q *RedisQuota) Take(ctx context.Context, ch domain.Channel) (bool, time.Duration, error) {
	lim, ok := q.limits[ch]
	if !ok || (lim.PerSecond <= 0 && lim.PerMinute <= 0 && lim.PerDay <= 0) {
		return true, 0, nil
	}
	now := q.now().UTC()
	keys := []string{
		fmt.Sprintf("quota:%s:sec:%d", ch, now.Unix()),
		fmt.Sprintf("quota:%s:min:%d", ch, now.Unix()/60),
		fmt.Sprintf("quota:%s:day:%s", ch, now.Format("2006-01-02")),
	}
	res, err := q.script.Run(ctx, q.client, keys, 1, lim.PerSecond, lim.PerMinute, lim.PerDay).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("quota check failed: %w", err)
	}
	if res[0].(int64) == 1 {
		return true, 0, nil
	}
	switch res[1].(int64) {
	case 1:
		return false, time.Second, nil
	case 2:
		return false, time.Duration(60-now.Second()) * time.Second, nil
	default:
		return false, 0, ErrDailyQuota
	}
}
