package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey         = "presence:online"
	instancesKey      = "presence:instances"
	instanceKeyPrefix = "presence:instance:"
	heartbeatPrefix   = "presence:heartbeat:"
)

// A name stays in the online set while any known instance still holds it
// in its ownership set. ARGV: online key, instances key, instance key
// prefix, username, own instance id.
var removeScript = redis.NewScript(`
local name = ARGV[4]
redis.call('SREM', ARGV[3] .. ARGV[5], name)
for _, id in ipairs(redis.call('SMEMBERS', ARGV[2])) do
	if id ~= ARGV[5] and redis.call('SISMEMBER', ARGV[3] .. id, name) == 1 then
		return 0
	end
end
redis.call('SREM', ARGV[1], name)
return 1
`)

// Forgets an instance and drops the names only it held. ARGV: online key,
// instances key, instance key prefix, instance id. Returns the number of
// names removed from the online set.
var sweepScript = redis.NewScript(`
local own = ARGV[3] .. ARGV[4]
redis.call('SREM', ARGV[2], ARGV[4])
local names = redis.call('SMEMBERS', own)
redis.call('DEL', own)
local live = redis.call('SMEMBERS', ARGV[2])
local removed = 0
for _, name in ipairs(names) do
	local held = false
	for _, id in ipairs(live) do
		if redis.call('SISMEMBER', ARGV[3] .. id, name) == 1 then
			held = true
			break
		end
	end
	if not held then
		removed = removed + redis.call('SREM', ARGV[1], name)
	end
end
return removed
`)

// PresenceRepo is the shared presence registry. Usernames live in one
// global Redis set. Each process also keeps the names it holds under its
// own instance key and refreshes a heartbeat key with a TTL; instances
// whose heartbeat expired are swept by whoever notices first.
type PresenceRepo struct {
	redis        *redis.Client
	instanceID   string
	heartbeatTTL time.Duration
}

func NewPresenceRepo(redis *redis.Client, instanceID string, heartbeatTTL time.Duration) *PresenceRepo {
	return &PresenceRepo{
		redis:        redis,
		instanceID:   instanceID,
		heartbeatTTL: heartbeatTTL,
	}
}

func (pr *PresenceRepo) Add(ctx context.Context, username string) error {
	_, err := pr.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, onlineKey, username)
		pipe.SAdd(ctx, instanceKeyPrefix+pr.instanceID, username)
		pipe.SAdd(ctx, instancesKey, pr.instanceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add %s to presence: %w", username, err)
	}
	return nil
}

// Remove drops the name from this instance. It leaves the online set
// alone while another instance still holds the same name.
func (pr *PresenceRepo) Remove(ctx context.Context, username string) error {
	err := removeScript.Run(ctx, pr.redis, nil,
		onlineKey, instancesKey, instanceKeyPrefix, username, pr.instanceID,
	).Err()
	if err != nil {
		return fmt.Errorf("remove %s from presence: %w", username, err)
	}
	return nil
}

func (pr *PresenceRepo) List(ctx context.Context) ([]string, error) {
	usernames, err := pr.redis.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	return usernames, nil
}

func (pr *PresenceRepo) Contains(ctx context.Context, username string) (bool, error) {
	ok, err := pr.redis.SIsMember(ctx, onlineKey, username).Result()
	if err != nil {
		return false, fmt.Errorf("check presence of %s: %w", username, err)
	}
	return ok, nil
}

// Heartbeat marks this instance alive for one TTL.
func (pr *PresenceRepo) Heartbeat(ctx context.Context) error {
	_, err := pr.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, heartbeatPrefix+pr.instanceID, time.Now().Unix(), pr.heartbeatTTL)
		pipe.SAdd(ctx, instancesKey, pr.instanceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", pr.instanceID, err)
	}
	return nil
}

// Sweep runs once at startup, before this instance serves anyone. It
// drops what a previous run under the same instance id left behind, then
// sweeps every dead instance. It returns the number of names removed.
func (pr *PresenceRepo) Sweep(ctx context.Context) (int, error) {
	own, err := pr.sweepInstance(ctx, pr.instanceID)
	if err != nil {
		return 0, err
	}

	dead, err := pr.SweepExpired(ctx)
	return own + dead, err
}

// SweepExpired sweeps the instances whose heartbeat has expired.
func (pr *PresenceRepo) SweepExpired(ctx context.Context) (int, error) {
	ids, err := pr.redis.SMembers(ctx, instancesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list instances: %w", err)
	}

	removed := 0
	for _, id := range ids {
		if id == pr.instanceID {
			continue
		}

		alive, err := pr.redis.Exists(ctx, heartbeatPrefix+id).Result()
		if err != nil {
			return removed, fmt.Errorf("check heartbeat of %s: %w", id, err)
		}
		if alive > 0 {
			continue
		}

		n, err := pr.sweepInstance(ctx, id)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (pr *PresenceRepo) sweepInstance(ctx context.Context, id string) (int, error) {
	n, err := sweepScript.Run(ctx, pr.redis, nil,
		onlineKey, instancesKey, instanceKeyPrefix, id,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("sweep instance %s: %w", id, err)
	}
	return n, nil
}
