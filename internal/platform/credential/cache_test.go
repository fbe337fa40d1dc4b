package credential

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	expiry := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	if err := cache.Set(ctx, "relay:token:t:c", Token{AccessToken: "tok", Expiry: expiry}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ttl := mr.TTL("relay:token:t:c")
	if ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Errorf("expected ttl close to the token lifetime, got %s", ttl)
	}

	tok, ok, err := cache.Get(ctx, "relay:token:t:c")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if tok.AccessToken != "tok" || !tok.Expiry.Equal(expiry) {
		t.Errorf("unexpected token %+v", tok)
	}

	mr.FastForward(11 * time.Minute)
	if _, ok, err := cache.Get(ctx, "relay:token:t:c"); ok || err != nil {
		t.Errorf("expected miss after expiry, got ok=%v err=%v", ok, err)
	}
}

func TestRedisCache_Miss(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	tok, ok, err := cache.Get(context.Background(), "relay:token:none")
	if err != nil {
		t.Fatalf("a miss is not an error: %v", err)
	}
	if ok || tok.AccessToken != "" {
		t.Errorf("expected miss, got %+v", tok)
	}
}

func TestRedisCache_SkipsExpiredTokens(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	tests := map[string]Token{
		"expired":     {AccessToken: "old", Expiry: time.Now().Add(-time.Minute)},
		"zero-expiry": {AccessToken: "forever"},
	}
	for key, tok := range tests {
		if err := cache.Set(ctx, key, tok); err != nil {
			t.Errorf("%s: unexpected error: %v", key, err)
		}
		if mr.Exists(key) {
			t.Errorf("%s: token must not be stored", key)
		}
	}
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	mr.Set("relay:token:bad", "not json")

	if _, ok, err := cache.Get(context.Background(), "relay:token:bad"); err == nil || ok {
		t.Errorf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestClientCredentialsProvider_SharesTokenThroughRedis(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls)
	defer srv.Close()

	cache, mr := newTestRedisCache(t)
	store := &recordingStore{secret: "vault-secret"}

	first := newTestProvider(srv, store, WithCache(cache))
	second := newTestProvider(srv, store, WithCache(cache))

	for _, p := range []*ClientCredentialsProvider{first, second} {
		tok, err := p.GetAccessToken(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "token-abc" {
			t.Errorf("expected token-abc, got %q", tok)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected one exchange across instances, got %d", n)
	}
	if !mr.Exists("relay:token:tenant-1:client-1") {
		t.Error("expected token stored under the tenant/client key")
	}
}
