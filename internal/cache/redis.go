package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore is the Redis-backed implementation of Store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis the way original_source/src/integration/redis.rs
// Config::connect() does: open a client, fail fast if it cannot be reached.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Set(ctx context.Context, key Key, value string) {
	if err := r.client.Set(ctx, key.String(), value, 0).Err(); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("cache: SET failed")
	}
}

func (r *RedisStore) SetEx(ctx context.Context, key Key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = key.TTL()
	}
	if err := r.client.Set(ctx, key.String(), value, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("cache: SETEX failed")
	}
}

func (r *RedisStore) Get(ctx context.Context, key Key) (string, bool) {
	v, err := r.client.Get(ctx, key.String()).Result()
	if err != nil {
		if err != redis.Nil {
			log.Error().Err(err).Str("key", key.String()).Msg("cache: GET failed")
		}
		return "", false
	}
	return v, true
}

func (r *RedisStore) GetDel(ctx context.Context, key Key) (string, bool) {
	v, err := r.client.GetDel(ctx, key.String()).Result()
	if err != nil {
		if err != redis.Nil {
			log.Error().Err(err).Str("key", key.String()).Msg("cache: GETDEL failed")
		}
		return "", false
	}
	return v, true
}

func (r *RedisStore) SAdd(ctx context.Context, key Key, member string) {
	if err := r.client.SAdd(ctx, key.String(), member).Err(); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("cache: SADD failed")
	}
}

func (r *RedisStore) SRem(ctx context.Context, key Key, member string) {
	if err := r.client.SRem(ctx, key.String(), member).Err(); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("cache: SREM failed")
	}
}

func (r *RedisStore) SMembers(ctx context.Context, key Key) []string {
	v, err := r.client.SMembers(ctx, key.String()).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("cache: SMEMBERS failed")
		return nil
	}
	return v
}

func (r *RedisStore) Expire(ctx context.Context, key Key, ttl time.Duration) {
	if err := r.client.Expire(ctx, key.String(), ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("cache: EXPIRE failed")
	}
}

func (r *RedisStore) Close() error { return r.client.Close() }

// Subscribe enables keyspace notifications and PSUBSCRIBEs to the given
// prefix, the way original_source's event.rs listen_online_status_change /
// enable_keyspace_events pair does. The server-side CONFIG SET is
// best-effort: a managed Redis instance may already have it enabled and
// reject the command, which we log and continue past.
func (r *RedisStore) Subscribe(ctx context.Context, prefix string) (<-chan KeyEvent, error) {
	if err := r.client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		log.Warn().Err(err).Msg("cache: failed to enable keyspace notifications, assuming already enabled")
	}

	pattern := "__keyspace@0__:" + prefix + "*"
	pubsub := r.client.PSubscribe(ctx, pattern)

	out := make(chan KeyEvent, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				key := strings.TrimPrefix(msg.Channel, "__keyspace@0__:")
				select {
				case out <- KeyEvent{Key: key, Op: KeyOp(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
