package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const acquirePollInterval = 25 * time.Millisecond

// unlockScript deletes the key only when it still holds our owner token, so
// a lock that expired and was re-acquired elsewhere is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX with a TTL and an owner token per
// acquisition. The TTL bounds how long a crashed holder can block a claim.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		prefix: "claimloop:lock:",
		log:    logger,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	for {
		acquired, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}

	release := func() {
		// Release runs after the event's transaction committed; a failed
		// unlock only delays the next event until the TTL expires.
		if _, err := unlockScript.Run(context.Background(), r.client, []string{redisKey}, token).Result(); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("failed to release claim lock")
		}
	}
	return release, nil
}
