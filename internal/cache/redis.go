package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// generationTTL outlives any cached cart so a fill never sees an expired counter while its cart is live.
const generationTTL = 24 * time.Hour

var setIfGeneration = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, profileID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(profileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, profileID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(profileID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set stores cart only if the profile's generation still equals generation.
func (r *RedisCache) Set(ctx context.Context, profileID string, cart *domain.Cart, generation int64) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jitter spreads expiry of carts cached at the same moment
	ttl := r.baseTTL + time.Duration(rand.IntN(5))*time.Minute
	stored, err := setIfGeneration.Run(ctx, r.client,
		[]string{cacheKey(profileID), generationKey(profileID)},
		strconv.FormatInt(generation, 10), payload, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if stored == 0 {
		return ErrStaleFill
	}
	return nil
}

// Delete drops the cached cart and advances the generation in one transaction.
func (r *RedisCache) Delete(ctx context.Context, profileID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(profileID))
		pipe.Expire(ctx, generationKey(profileID), generationTTL)
		pipe.Del(ctx, cacheKey(profileID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(profileID string) string {
	return fmt.Sprintf("cart:%s", profileID)
}

func generationKey(profileID string) string {
	return fmt.Sprintf("cart:gen:%s", profileID)
}
