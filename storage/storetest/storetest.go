// Package storetest is a conformance suite for storage.Store backends.
package storetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/storage"
)

// Advance moves the backend's notion of time forward by d.
type Advance func(d time.Duration)

// StoreFactory creates a new, empty Store for one test.
type StoreFactory func(t *testing.T) (storage.Store, Advance)

// shortTTL is small enough to keep the suite fast with real clocks.
const shortTTL = 150 * time.Millisecond

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Sessions_SaveThenGetReturnsEqualRecord", func(t *testing.T) { testSessionRoundTrip(t, factory) })
	t.Run("Sessions_GetMissingReturnsNil", func(t *testing.T) { testSessionMissing(t, factory) })
	t.Run("Sessions_ExpireAfterTTL", func(t *testing.T) { testSessionExpiry(t, factory) })
	t.Run("Sessions_SaveOverwrites", func(t *testing.T) { testSessionOverwrite(t, factory) })
	t.Run("Sessions_DeleteIsIdempotent", func(t *testing.T) { testSessionDelete(t, factory) })
	t.Run("Sessions_ReturnedValueIsDetached", func(t *testing.T) { testSessionDetached(t, factory) })

	t.Run("AuthState_GetDoesNotConsume", func(t *testing.T) { testAuthStateGet(t, factory) })
	t.Run("AuthState_ConsumeReturnsAtMostOnce", func(t *testing.T) { testAuthStateConsumeOnce(t, factory) })
	t.Run("AuthState_ConcurrentConsumeHasOneWinner", func(t *testing.T) { testAuthStateConsumeConcurrent(t, factory) })
	t.Run("AuthState_ExpireAfterTTL", func(t *testing.T) { testAuthStateExpiry(t, factory) })
	t.Run("AuthState_Delete", func(t *testing.T) { testAuthStateDelete(t, factory) })

	t.Run("Save_RejectsInvalidArguments", func(t *testing.T) { testInvalidArguments(t, factory) })
}

// SampleSession returns a fully populated session.
func SampleSession() *auth.UserSession {
	now := time.Now().UTC()
	return &auth.UserSession{
		UserID:             "user-1",
		DisplayName:        "Jane Smith",
		Email:              "jane@example.com",
		Groups:             []string{"g-1", "g-2"},
		Roles:              []string{"Reader", "Admin"},
		AccessToken:        "access-token",
		RefreshToken:       "refresh-token",
		TokenExpiresAt:     now.Add(time.Hour),
		SessionCreatedAt:   now,
		IsPrivilegedMember: true,
	}
}

// EqualSessions reports whether a and b agree on every field.
func EqualSessions(a, b *auth.UserSession) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID &&
		a.DisplayName == b.DisplayName &&
		a.Email == b.Email &&
		slices.Equal(a.Groups, b.Groups) &&
		slices.Equal(a.Roles, b.Roles) &&
		a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken &&
		a.TokenExpiresAt.Equal(b.TokenExpiresAt) &&
		a.SessionCreatedAt.Equal(b.SessionCreatedAt) &&
		a.IsPrivilegedMember == b.IsPrivilegedMember
}

func sampleState(value string) *auth.AuthState {
	return &auth.AuthState{
		State:        value,
		Nonce:        "nonce-" + value,
		RedirectURI:  "/dashboard",
		CreatedAt:    time.Now().UTC(),
		CodeVerifier: "verifier-" + value,
	}
}

func testSessionRoundTrip(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()
	want := SampleSession()

	if err := s.SaveSession(ctx, "sid-1", want, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !EqualSessions(got, want) {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func testSessionMissing(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	got, err := s.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil, got %+v", got)
	}
}

func testSessionExpiry(t *testing.T, factory StoreFactory) {
	s, advance := factory(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "sid-1", SampleSession(), shortTTL); err != nil {
		t.Fatalf("save: %v", err)
	}
	advance(2 * shortTTL)
	got, err := s.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected session to expire, got %+v", got)
	}
	// Still absent on a second read.
	if got, _ := s.GetSession(ctx, "sid-1"); got != nil {
		t.Fatalf("expected expired session to stay absent")
	}
}

func testSessionOverwrite(t *testing.T, factory StoreFactory) {
	s, advance := factory(t)
	ctx := context.Background()

	first := SampleSession()
	if err := s.SaveSession(ctx, "sid-1", first, shortTTL); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := SampleSession()
	second.AccessToken = "rotated"
	if err := s.SaveSession(ctx, "sid-1", second, time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	// The overwrite carries its own, longer TTL.
	advance(2 * shortTTL)
	got, err := s.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.AccessToken != "rotated" {
		t.Fatalf("want overwritten session, got %+v", got)
	}
}

func testSessionDelete(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "sid-1", SampleSession(), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.DeleteSession(ctx, "sid-1"); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	if got, _ := s.GetSession(ctx, "sid-1"); got != nil {
		t.Fatalf("expected deleted session to be absent")
	}
}

func testSessionDetached(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()

	in := SampleSession()
	if err := s.SaveSession(ctx, "sid-1", in, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	in.Roles[0] = "mutated-after-save"

	got, _ := s.GetSession(ctx, "sid-1")
	got.Groups[0] = "mutated-after-get"

	again, _ := s.GetSession(ctx, "sid-1")
	if again.Roles[0] != "Reader" || again.Groups[0] != "g-1" {
		t.Fatalf("stored session aliased caller memory: %+v", again)
	}
}

func testAuthStateGet(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()
	st := sampleState("st-1")

	if err := s.SaveAuthState(ctx, st, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := s.GetAuthState(ctx, "st-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil || got.Nonce != st.Nonce || got.CodeVerifier != st.CodeVerifier || got.RedirectURI != st.RedirectURI {
			t.Fatalf("want %+v, got %+v", st, got)
		}
	}
}

func testAuthStateConsumeOnce(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()

	if err := s.SaveAuthState(ctx, sampleState("st-1"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.ConsumeAuthState(ctx, "st-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got == nil || got.State != "st-1" {
		t.Fatalf("want state st-1, got %+v", got)
	}
	for i := 0; i < 3; i++ {
		again, err := s.ConsumeAuthState(ctx, "st-1")
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if again != nil {
			t.Fatalf("auth state validated twice")
		}
	}
	if got, _ := s.GetAuthState(ctx, "st-1"); got != nil {
		t.Fatalf("consumed auth state still readable")
	}
}

func testAuthStateConsumeConcurrent(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()

	if err := s.SaveAuthState(ctx, sampleState("st-race"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ConsumeAuthState(ctx, "st-race")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if got != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Fatalf("want exactly 1 winner, got %d", n)
	}
}

func testAuthStateExpiry(t *testing.T, factory StoreFactory) {
	s, advance := factory(t)
	ctx := context.Background()

	if err := s.SaveAuthState(ctx, sampleState("st-1"), shortTTL); err != nil {
		t.Fatalf("save: %v", err)
	}
	advance(2 * shortTTL)
	got, err := s.ConsumeAuthState(ctx, "st-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired auth state, got %+v", got)
	}
}

func testAuthStateDelete(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()

	if err := s.SaveAuthState(ctx, sampleState("st-1"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteAuthState(ctx, "st-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.ConsumeAuthState(ctx, "st-1"); got != nil {
		t.Fatalf("deleted auth state still consumable")
	}
}

func testInvalidArguments(t *testing.T, factory StoreFactory) {
	s, _ := factory(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "", SampleSession(), time.Minute); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
	if err := s.SaveSession(ctx, "sid", SampleSession(), 0); !errors.Is(err, storage.ErrInvalidTTL) {
		t.Fatalf("want ErrInvalidTTL, got %v", err)
	}
	if err := s.SaveAuthState(ctx, sampleState(""), time.Minute); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
}
