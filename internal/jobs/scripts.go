package jobs

import "github.com/redis/go-redis/v9"

// All scripts take "now" from ARGV so behavior is deterministic under test
// clocks. Job hashes are addressed by prefix + id inside the scripts, which
// keeps them single-node only.

// dequeueScript pops the first claimable id from the priority lists and
// returns {id, attempt}. The attempt number fences later updates to this claim.
//
// KEYS[1..3] queue lists in priority order, KEYS[4] processing zset
// ARGV[1] now (ms), ARGV[2] job key prefix
var dequeueScript = redis.NewScript(`
for i = 1, 3 do
  while true do
    local id = redis.call('LPOP', KEYS[i])
    if not id then break end
    local key = ARGV[2] .. id
    if redis.call('HGET', key, 'status') == 'pending' then
      redis.call('HSET', key,
        'status', 'processing',
        'started_at', ARGV[1],
        'heartbeat_at', ARGV[1],
        'updated_at', ARGV[1])
      local attempt = redis.call('HINCRBY', key, 'attempts', 1)
      redis.call('ZADD', KEYS[4], ARGV[1], id)
      return {id, attempt}
    end
  end
end
return false
`)

// updateScript applies a progress or terminal update with CAS semantics.
// A non-zero claim attempt must match the stored attempt counter, so a
// worker whose job was reaped and reclaimed can no longer touch it.
// Completed jobs are added to the unsettled set until charged.
//
// KEYS[1] job hash, KEYS[2] processing zset, KEYS[3] unsettled zset
// ARGV[1] now (ms), ARGV[2] target status ("" = progress only),
// ARGV[3] progress ("" = unchanged), ARGV[4] step, ARGV[5] result,
// ARGV[6] error kind, ARGV[7] error message, ARGV[8] retention (s), ARGV[9] id,
// ARGV[10] claim attempt ("0" = unfenced)
var updateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return 'not_found' end
if ARGV[10] ~= '0' and (redis.call('HGET', KEYS[1], 'attempts') or '0') ~= ARGV[10] then
  return 'claim_lost'
end
local target = ARGV[2]
local isTerminal = cur == 'completed' or cur == 'failed'

if target == 'completed' or target == 'failed' then
  if isTerminal then
    local result = redis.call('HGET', KEYS[1], 'result') or ''
    local kind = redis.call('HGET', KEYS[1], 'error_kind') or ''
    local msg = redis.call('HGET', KEYS[1], 'error_message') or ''
    if cur == target and result == ARGV[5] and kind == ARGV[6] and msg == ARGV[7] then
      return 'noop'
    end
    return 'invalid_transition'
  end
  if cur ~= 'processing' then return 'invalid_transition' end

  redis.call('HSET', KEYS[1],
    'status', target,
    'result', ARGV[5],
    'error_kind', ARGV[6],
    'error_message', ARGV[7],
    'updated_at', ARGV[1],
    'finished_at', ARGV[1])
  if target == 'completed' then
    redis.call('HSET', KEYS[1], 'progress', '100')
    redis.call('ZADD', KEYS[3], ARGV[1], ARGV[9])
  end
  if ARGV[4] ~= '' then
    redis.call('HSET', KEYS[1], 'step', ARGV[4])
  end
  redis.call('ZREM', KEYS[2], ARGV[9])
  redis.call('EXPIRE', KEYS[1], ARGV[8])
  return 'ok'
end

if target ~= '' then return 'invalid_transition' end
if cur ~= 'processing' then return 'invalid_transition' end

if ARGV[3] ~= '' then
  local old = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0') or 0
  local p = tonumber(ARGV[3])
  if p > old then
    redis.call('HSET', KEYS[1], 'progress', ARGV[3])
  end
end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'step', ARGV[4])
end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[9])
if redis.call('HGET', KEYS[1], 'cancel_requested') == '1' then
  return 'cancel_requested'
end
return 'ok'
`)

// cancelScript flags a non-terminal job for cooperative cancellation.
//
// KEYS[1] job hash; ARGV[1] now (ms)
var cancelScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return 'not_found' end
if cur == 'completed' or cur == 'failed' then return 'terminal' end
redis.call('HSET', KEYS[1], 'cancel_requested', '1', 'updated_at', ARGV[1])
return 'ok'
`)

// reapScript recovers processing jobs whose heartbeat is older than the cutoff.
//
// KEYS[1] processing zset
// ARGV[1] cutoff (ms), ARGV[2] max attempts, ARGV[3] now (ms),
// ARGV[4] retention (s), ARGV[5] job key prefix, ARGV[6] queue key prefix,
// ARGV[7] batch limit
var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[7]))
local requeued = 0
local failed = 0
for _, id in ipairs(ids) do
  local key = ARGV[5] .. id
  local st = redis.call('HGET', key, 'status')
  if st ~= 'processing' then
    redis.call('ZREM', KEYS[1], id)
  else
    local hb = tonumber(redis.call('HGET', key, 'heartbeat_at') or '0') or 0
    if hb <= tonumber(ARGV[1]) then
      redis.call('ZREM', KEYS[1], id)
      local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0') or 0
      if attempts < tonumber(ARGV[2]) then
        local prio = redis.call('HGET', key, 'priority') or 'default'
        redis.call('HSET', key, 'status', 'pending', 'progress', '0', 'step', '', 'updated_at', ARGV[3])
        redis.call('LPUSH', ARGV[6] .. prio, id)
        requeued = requeued + 1
      else
        redis.call('HSET', key,
          'status', 'failed',
          'result', '',
          'error_kind', 'stale',
          'error_message', 'worker stopped reporting progress',
          'updated_at', ARGV[3],
          'finished_at', ARGV[3])
        redis.call('EXPIRE', key, ARGV[4])
        failed = failed + 1
      end
    end
  end
end
return {requeued, failed}
`)
