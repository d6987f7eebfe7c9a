package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/sessions"
	"github.com/F-Prime-Capital/mcp-server/storage"
	"github.com/F-Prime-Capital/mcp-server/storage/memory"
	rstore "github.com/F-Prime-Capital/mcp-server/storage/redis"
	"github.com/F-Prime-Capital/mcp-server/storage/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type backend struct {
	name string
	new  func(t *testing.T) (storage.Store, storetest.Advance)
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) (storage.Store, storetest.Advance) {
			return memory.New(), time.Sleep
		}},
		{"redis", func(t *testing.T) (storage.Store, storetest.Advance) {
			mr := miniredis.RunT(t)
			s, err := rstore.New(rstore.Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
			if err != nil {
				t.Fatalf("new redis store: %v", err)
			}
			return s, mr.FastForward
		}},
	}
}

func TestCreateThenGet(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, _ := b.new(t)
			m := sessions.NewManager(store)
			t.Cleanup(func() { _ = m.Close() })
			ctx := context.Background()

			want := storetest.SampleSession()
			id, err := m.CreateSession(ctx, want)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			// 32 bytes of unpadded base64url.
			if len(id) != 43 {
				t.Fatalf("want 43 char id, got %d", len(id))
			}
			got, err := m.GetSession(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !storetest.EqualSessions(got, want) {
				t.Fatalf("want %+v, got %+v", want, got)
			}

			other, err := m.CreateSession(ctx, want)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if other == id {
				t.Fatalf("expected distinct session ids")
			}
		})
	}
}

func TestSessionExpires(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, advance := b.new(t)
			m := sessions.NewManager(store, sessions.WithSessionTTL(100*time.Millisecond))
			ctx := context.Background()

			id, err := m.CreateSession(ctx, storetest.SampleSession())
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			advance(250 * time.Millisecond)
			got, err := m.GetSession(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != nil {
				t.Fatalf("expected expired session to be absent")
			}
		})
	}
}

func TestRefreshSession(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, advance := b.new(t)
			m := sessions.NewManager(store, sessions.WithSessionTTL(200*time.Millisecond))
			ctx := context.Background()

			id, err := m.CreateSession(ctx, storetest.SampleSession())
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			advance(120 * time.Millisecond)

			next := storetest.SampleSession()
			next.AccessToken = "new-access"
			next.TokenExpiresAt = next.TokenExpiresAt.Add(time.Hour)
			if err := m.RefreshSession(ctx, id, next); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			// Past the original window, inside the refreshed one.
			advance(120 * time.Millisecond)

			got, err := m.GetSession(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got == nil || got.AccessToken != "new-access" || !got.TokenExpiresAt.Equal(next.TokenExpiresAt) {
				t.Fatalf("want refreshed session, got %+v", got)
			}
		})
	}
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	m := sessions.NewManager(memory.New())
	ctx := context.Background()

	id, err := m.CreateSession(ctx, storetest.SampleSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.DeleteSession(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	if err := m.DeleteSession(ctx, ""); err != nil {
		t.Fatalf("delete empty: %v", err)
	}
	if got, _ := m.GetSession(ctx, id); got != nil {
		t.Fatalf("expected session to be gone")
	}
}

func TestGetSession_EmptyID(t *testing.T) {
	m := sessions.NewManager(memory.New())
	got, err := m.GetSession(context.Background(), "")
	if err != nil || got != nil {
		t.Fatalf("want (nil, nil), got (%v, %v)", got, err)
	}
}

func TestNilSessionRejected(t *testing.T) {
	m := sessions.NewManager(memory.New())
	if _, err := m.CreateSession(context.Background(), nil); !errors.Is(err, sessions.ErrNilSession) {
		t.Fatalf("want ErrNilSession, got %v", err)
	}
	if err := m.RefreshSession(context.Background(), "id", nil); !errors.Is(err, sessions.ErrNilSession) {
		t.Fatalf("want ErrNilSession, got %v", err)
	}
}

func TestValidateAuthState_SingleUse(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, _ := b.new(t)
			m := sessions.NewManager(store)
			ctx := context.Background()

			st := &auth.AuthState{State: "abc", Nonce: "n", RedirectURI: "/dashboard", CreatedAt: time.Now(), CodeVerifier: "v"}
			if err := m.SaveAuthState(ctx, st); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := m.ValidateAuthState(ctx, "abc")
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got == nil || got.RedirectURI != "/dashboard" || got.CodeVerifier != "v" {
				t.Fatalf("unexpected auth state %+v", got)
			}
			for i := 0; i < 2; i++ {
				again, err := m.ValidateAuthState(ctx, "abc")
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				if again != nil {
					t.Fatalf("auth state validated twice")
				}
			}
			if got, _ := m.ValidateAuthState(ctx, "unknown"); got != nil {
				t.Fatalf("unknown state validated")
			}
			if got, _ := m.ValidateAuthState(ctx, ""); got != nil {
				t.Fatalf("empty state validated")
			}
		})
	}
}

func TestValidateAuthState_Expires(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, advance := b.new(t)
			m := sessions.NewManager(store, sessions.WithAuthStateTTL(100*time.Millisecond))
			ctx := context.Background()

			if err := m.SaveAuthState(ctx, &auth.AuthState{State: "abc", CreatedAt: time.Now()}); err != nil {
				t.Fatalf("save: %v", err)
			}
			advance(250 * time.Millisecond)
			if got, _ := m.ValidateAuthState(ctx, "abc"); got != nil {
				t.Fatalf("expired auth state validated")
			}
		})
	}
}

func TestSessionTTLDefault(t *testing.T) {
	m := sessions.NewManager(memory.New(), sessions.WithSessionTTL(0))
	if m.SessionTTL() != sessions.DefaultSessionTTL {
		t.Fatalf("want default ttl, got %v", m.SessionTTL())
	}
}
