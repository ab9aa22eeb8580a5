package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	if err := s.Put(ctx, "a", "1", 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil || got != "1" {
		t.Fatalf("Get(a) = %q, %v, want 1", got, err)
	}

	ok, err := s.Exists(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Exists(a) = %v, %v, want true", ok, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() of missing key error = %v", err)
	}
	ok, _ = s.Exists(ctx, "a")
	if ok {
		t.Error("Exists(a) after delete = true")
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore()
	s.SetClock(clock.Now)

	if err := s.Put(ctx, "ttl", "v", time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "forever", "v", 0); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := s.Get(ctx, "ttl"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	clock.Advance(time.Second)
	if _, err := s.Get(ctx, "ttl"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrKeyNotFound", err)
	}

	keys, _ := s.Keys(ctx, "")
	if len(keys) != 1 || keys[0] != "forever" {
		t.Errorf("Keys() = %v, want [forever]", keys)
	}
}

func TestMemoryStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{"scope|a", "scope|b", "lockid|1", "health|9"} {
		if err := s.Put(ctx, k, "x", 0); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "scope|")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "scope|a" || keys[1] != "scope|b" {
		t.Errorf("Keys(scope|) = %v", keys)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalKeys != 4 || stats.ClusterMembers != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestMemoryStore_Lock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u, err := s.Lock(ctx, "k", time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	if _, err := s.Lock(ctx, "k", time.Minute, 10*time.Millisecond); !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("second Lock() error = %v, want ErrLockNotAcquired", err)
	}

	other, err := s.Lock(ctx, "other", time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock(other) error = %v", err)
	}
	defer other.Unlock(ctx)

	if err := u.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := u.Unlock(ctx); !errors.Is(err, ErrNoSuchLock) {
		t.Errorf("second Unlock() error = %v, want ErrNoSuchLock", err)
	}

	u, err = s.Lock(ctx, "k", time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
	_ = u.Unlock(ctx)
}

func TestMemoryStore_LockWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u, err := s.Lock(ctx, "k", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		u2, err := s.Lock(ctx, "k", time.Minute, 5*time.Second)
		if err == nil {
			err = u2.Unlock(ctx)
		}
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := u.Unlock(ctx); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiting Lock() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiting Lock() was never woken")
	}
}

func TestMemoryStore_LockExpires(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore()
	s.SetClock(clock.Now)

	stale, err := s.Lock(ctx, "k", time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	clock.Advance(time.Second)
	fresh, err := s.Lock(ctx, "k", time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() after ttl error = %v", err)
	}

	if err := stale.Unlock(ctx); !errors.Is(err, ErrNoSuchLock) {
		t.Errorf("stale Unlock() error = %v, want ErrNoSuchLock", err)
	}
	if err := fresh.Unlock(ctx); err != nil {
		t.Errorf("fresh Unlock() error = %v", err)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := s.Ping(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Ping() error = %v, want ErrStoreClosed", err)
	}
	if err := s.Put(ctx, "k", "v", 0); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Put() error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.Lock(ctx, "k", 0, 0); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Lock() error = %v, want ErrStoreClosed", err)
	}
}
