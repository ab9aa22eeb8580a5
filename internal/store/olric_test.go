package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
)

// startOlric starts a single embedded node on port, skipping in short mode.
func startOlric(t *testing.T, port int) (*OlricStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := NewDefaultOlricConfig()
	cfg.BindAddr = "127.0.0.1"
	cfg.BindPort = port
	cfg.MemberlistBindPort = port + 1000
	cfg.LogLevel = "ERROR"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	s, err := NewOlricStore(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := s.Close(shutdownCtx); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s, ctx
}

func TestOlricStore_SingleNode(t *testing.T) {
	s, ctx := startOlric(t, 13320)

	if err := s.Put(ctx, "scope|doc/d1", `{"locks":[]}`, 0); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := s.Get(ctx, "scope|doc/d1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != `{"locks":[]}` {
		t.Errorf("Get() = %q", got)
	}

	if err := s.Delete(ctx, "scope|doc/d1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "scope|doc/d1"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
	if _, err := s.Get(ctx, "scope|doc/d1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrKeyNotFound", err)
	}

	if err := s.Put(ctx, "ttl", "v", 2*time.Second); err != nil {
		t.Fatalf("Put() with TTL failed: %v", err)
	}
	time.Sleep(3 * time.Second)
	if ok, err := s.Exists(ctx, "ttl"); err != nil || ok {
		t.Errorf("Exists() after TTL = %v, %v, want false", ok, err)
	}
}

func TestOlricStore_LockAndKeys(t *testing.T) {
	s, ctx := startOlric(t, 13321)

	u, err := s.Lock(ctx, "mutex|doc/d1", 5*time.Second, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := s.Lock(ctx, "mutex|doc/d1", 5*time.Second, 100*time.Millisecond); !errors.Is(err, ErrLockNotAcquired) {
		t.Errorf("second Lock() error = %v, want ErrLockNotAcquired", err)
	}
	if err := u.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}

	for _, k := range []string{"scope|a", "scope|b", "lockid|x"} {
		if err := s.Put(ctx, k, "v", 0); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "scope|")
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "scope|a" || keys[1] != "scope|b" {
		t.Errorf("Keys(scope|) = %v", keys)
	}
}

func TestOlricStore_PingAndStats(t *testing.T) {
	s, ctx := startOlric(t, 13322)

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.ClusterMembers != 1 {
		t.Errorf("Stats().ClusterMembers = %d, want 1", stats.ClusterMembers)
	}
	if stats.PartitionCount != 271 {
		t.Errorf("Stats().PartitionCount = %d, want 271", stats.PartitionCount)
	}
}
