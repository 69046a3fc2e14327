package queue

import "github.com/redis/go-redis/v9"

// Server-side Lua scripts implementing the atomic operations of §4.1.
// Keeping these as string literals mirrors the original Rust
// redis_bet_repository's lua_scripts.rs; Go wraps each in a redis.Script
// so the client caches its SHA and uses EVALSHA after the first call.

// claimPendingScript atomically moves up to ARGV[1] due entries from the
// claimable set to the processing set, stamping each with a batch id and
// processor id.
//
// KEYS: [claimable, processing]
// ARGV: [limit, batch_id, processor_id, now_ms]
// Returns: flat array of claimed bet ids.
var claimPendingScript = redis.NewScript(`
local claimable = KEYS[1]
local processing = KEYS[2]
local limit = tonumber(ARGV[1])
local batch_id = ARGV[2]
local processor_id = ARGV[3]
local now_ms = tonumber(ARGV[4])

local entries = redis.call('ZRANGEBYSCORE', claimable, '-inf', now_ms, 'WITHSCORES', 'LIMIT', 0, limit)
local claimed = {}

for i = 1, #entries, 2 do
  local bet_id = entries[i]
  redis.call('ZREM', claimable, bet_id)
  redis.call('ZADD', processing, now_ms, bet_id)
  redis.call('HSET', 'bet:' .. bet_id,
    'status', 'batched',
    'external_batch_id', batch_id,
    'processor_id', processor_id
  )
  table.insert(claimed, bet_id)
end

return claimed
`)

// failRetryableScript increments retry_count and either schedules a
// backoff-delayed re-entry into claimable or escalates to
// failed_manual_review once the retry budget is exhausted. The backoff
// delay is min(backoff_base_ms * 2^(new_retry-1), backoff_max_ms), mirroring
// retry.Policy.Backoff; it is computed here, not in Go, because this script
// is the only place that knows the post-increment retry count atomically.
//
// KEYS: [bet_key, claimable, processing]
// ARGV: [bet_id, now_ms, max_retries, backoff_base_ms, backoff_max_ms]
// Returns: {new_status, new_retry_count}
var failRetryableScript = redis.NewScript(`
local function backoff_delay(base, max, n)
    if n < 1 then
        n = 1
    end
    local d = base
    local i = 1
    while i < n do
        d = d * 2
        if d >= max then
            return max
        end
        i = i + 1
    end
    if d > max then
        d = max
    end
    return d
end

local bet_key = KEYS[1]
local claimable = KEYS[2]
local processing = KEYS[3]
local bet_id = ARGV[1]
local now_ms = tonumber(ARGV[2])
local max_retries = tonumber(ARGV[3])
local backoff_base_ms = tonumber(ARGV[4])
local backoff_max_ms = tonumber(ARGV[5])

local current_retry = tonumber(redis.call('HGET', bet_key, 'retry_count') or '0')
local new_retry = current_retry + 1

redis.call('HSET', bet_key, 'retry_count', tostring(new_retry))
redis.call('HINCRBY', bet_key, 'version', 1)

if new_retry > max_retries then
    redis.call('HSET', bet_key, 'status', 'failed_manual_review')
    redis.call('ZREM', claimable, bet_id)
    redis.call('ZREM', processing, bet_id)
    return { 'failed_manual_review', tostring(new_retry) }
end

local delay = backoff_delay(backoff_base_ms, backoff_max_ms, new_retry)
local next_attempt_at = now_ms + delay

redis.call('HSET', bet_key,
    'status', 'failed_retryable',
    'next_attempt_at_ms', tostring(next_attempt_at)
)
redis.call('ZADD', claimable, next_attempt_at, bet_id)
redis.call('ZREM', processing, bet_id)

return { 'failed_retryable', tostring(new_retry) }
`)

// casUpdateScript performs a compare-and-swap status update on version.
//
// KEYS: [bet_key]
// ARGV: [expected_version, new_status]
// Returns: 1 if updated, 0 on version mismatch.
var casUpdateScript = redis.NewScript(`
local bet_key = KEYS[1]
local expected = tonumber(ARGV[1])
local new_status = ARGV[2]

local current = tonumber(redis.call('HGET', bet_key, 'version') or '0')
if current ~= expected then
  return 0
end

redis.call('HSET', bet_key, 'status', new_status)
redis.call('HINCRBY', bet_key, 'version', 1)
return 1
`)
