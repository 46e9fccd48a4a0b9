package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCartCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCartCache(client, ttl), mr
}

func TestRedisCartCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedisCache(t, time.Minute)

	_, err := cache.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	cart := &Cart{
		ID:     "cart-1",
		UserID: "user-1",
		Lines:  []CartLine{{ID: 1, ProductID: "a", Quantity: 3}},
	}
	require.NoError(t, cache.Set(ctx, "user-1", cart))

	got, err := cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cart-1", got.ID)
	assert.Equal(t, cart.Lines, got.Lines)

	// nada de preço na entrada
	raw, err := mr.Get("cart:user-1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "price")
}

func TestRedisCartCache_TTLWithJitter(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedisCache(t, time.Minute)

	require.NoError(t, cache.Set(ctx, "user-1", &Cart{ID: "cart-1"}))

	ttl := mr.TTL("cart:user-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+15*time.Second)

	mr.FastForward(2 * time.Minute)
	_, err := cache.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCartCache_Delete(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedisCache(t, time.Minute)
	require.NoError(t, cache.Set(ctx, "user-1", &Cart{ID: "cart-1"}))

	require.NoError(t, cache.Delete(ctx, "user-1"))

	assert.False(t, mr.Exists("cart:user-1"))
	// apagar chave inexistente não é erro
	assert.NoError(t, cache.Delete(ctx, "user-2"))
}

func TestRedisCartCache_CorruptEntry(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	require.NoError(t, mr.Set("cart:user-1", "not-json"))

	_, err := cache.Get(context.Background(), "user-1")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCartCache_ServerDown(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	mr.Close()

	_, err := cache.Get(context.Background(), "user-1")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestCartUseCase_WithRedisCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedProduct(t, store, "A", "10.00", 5)
	cache, mr := newTestRedisCache(t, time.Minute)
	uc := newTestCartUseCase(store, cache)

	require.NoError(t, uc.AddItem(ctx, "user-1", a.ID, 1))
	view, err := uc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "10.00", view.Total.StringFixed(2))
	assert.True(t, mr.Exists("cart:user-1"))

	// mutação invalida a entrada em cache
	require.NoError(t, uc.AddItem(ctx, "user-1", a.ID, 1))
	assert.False(t, mr.Exists("cart:user-1"))

	view, err = uc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "20.00", view.Total.StringFixed(2))
}

func TestCartUseCase_CachedCartShowsCurrentPrice(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedProduct(t, store, "A", "10.00", 5)
	cache, mr := newTestRedisCache(t, time.Minute)
	carts := newTestCartUseCase(store, cache)
	products := NewProductUseCase(store, zap.NewNop())

	require.NoError(t, carts.AddItem(ctx, "user-1", a.ID, 1))
	view, err := carts.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "10.00", view.Total.StringFixed(2))
	require.True(t, mr.Exists("cart:user-1"))

	price := dec("12.00")
	_, err = products.UpdateProduct(ctx, a.ID, UpdateProductInput{Price: &price})
	require.NoError(t, err)

	// entrada continua em cache, mas o preço é o novo
	view, err = carts.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("cart:user-1"))
	assert.Equal(t, "12.00", view.Items[0].Price.StringFixed(2))
	assert.Equal(t, "12.00", view.Total.StringFixed(2))
}

func TestCheckout_ClearsCachedCart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedProduct(t, store, "A", "10.00", 5)
	cache, mr := newTestRedisCache(t, time.Minute)
	carts := newTestCartUseCase(store, cache)
	orders := newTestOrderUseCase(NewMemoryRepositories(store), cache)

	require.NoError(t, carts.AddItem(ctx, "user-1", a.ID, 2))
	_, err := carts.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("cart:user-1"))

	_, err = orders.Checkout(ctx, "user-1")
	require.NoError(t, err)

	assert.False(t, mr.Exists("cart:user-1"))
	view, err := carts.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.True(t, view.Total.IsZero())
}
