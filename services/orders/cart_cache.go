package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// CartCache guarda as linhas do carrinho, nunca preços ou nomes: a visão é sempre
// montada com o estado atual do catálogo. O checkout nunca lê daqui.
type CartCache interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, userID string, cart *Cart) error
	Delete(ctx context.Context, userID string) error
}

// RedisCartCache implementa CartCache usando Redis
type RedisCartCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewRedisCartCache cria uma nova instância de RedisCartCache
func NewRedisCartCache(client *redis.Client, baseTTL time.Duration) *RedisCartCache {
	return &RedisCartCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

func (r *RedisCartCache) Get(ctx context.Context, userID string) (*Cart, error) {
	data, err := r.client.Get(ctx, cartCacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (r *RedisCartCache) Set(ctx context.Context, userID string, cart *Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jitter evita expiração simultânea de muitas chaves
	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(r.baseTTL/4)+1))
	if err := r.client.Set(ctx, cartCacheKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCartCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cartCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartCacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

// noopCartCache é usado quando REDIS_ADDR não está configurado
type noopCartCache struct{}

func (noopCartCache) Get(context.Context, string) (*Cart, error) { return nil, ErrCacheMiss }
func (noopCartCache) Set(context.Context, string, *Cart) error   { return nil }
func (noopCartCache) Delete(context.Context, string) error       { return nil }
