package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/F-Prime-Capital/mcp-server/storage"
	rstore "github.com/F-Prime-Capital/mcp-server/storage/redis"
	"github.com/F-Prime-Capital/mcp-server/storage/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) (*rstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := rstore.New(rstore.Config{Client: client})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) (storage.Store, storetest.Advance) {
		s, mr := newStore(t)
		return s, mr.FastForward
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "abc", storetest.SampleSession(), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("fprime:session:abc") {
		t.Fatalf("expected session under fprime:session: prefix, keys=%v", mr.Keys())
	}
	if ttl := mr.TTL("fprime:session:abc"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestRedisStore_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := rstore.New(rstore.Config{Client: client, SessionPrefix: "t:s:", AuthStatePrefix: "t:a:"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.SaveSession(context.Background(), "abc", storetest.SampleSession(), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("t:s:abc") {
		t.Fatalf("custom prefix not applied, keys=%v", mr.Keys())
	}
}

func TestNewFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := rstore.NewFromURL(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("new from url: %v", err)
	}
	_ = s.Close()

	if _, err := rstore.NewFromURL(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := rstore.New(rstore.Config{}); err == nil {
		t.Fatalf("expected error for missing client")
	}
}

func TestRedisStore_BackendFailure(t *testing.T) {
	s, mr := newStore(t)
	mr.Close()
	if _, err := s.GetSession(context.Background(), "abc"); err == nil {
		t.Fatalf("expected error when backend is down")
	}
}
