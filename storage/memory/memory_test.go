package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/F-Prime-Capital/mcp-server/storage"
	"github.com/F-Prime-Capital/mcp-server/storage/memory"
	"github.com/F-Prime-Capital/mcp-server/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) (storage.Store, storetest.Advance) {
		s := memory.New()
		t.Cleanup(func() { _ = s.Close() })
		return s, time.Sleep
	})
}

func TestMemoryStore_CloseDropsEntries(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.SaveSession(ctx, "sid", storetest.SampleSession(), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got, _ := s.GetSession(ctx, "sid"); got != nil {
		t.Fatalf("expected empty store after close")
	}
}
