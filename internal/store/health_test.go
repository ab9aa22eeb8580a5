package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/health"
)

// brokenStore overrides Ping and Stats of a MemoryStore.
type brokenStore struct {
	*MemoryStore
	err     error
	members int
}

func (b *brokenStore) Ping(ctx context.Context) error { return b.err }

func (b *brokenStore) Stats(ctx context.Context) (*StoreStats, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &StoreStats{ClusterMembers: b.members}, nil
}

func TestConnectionHealthChecker(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name  string
		store Store
		want  health.Status
	}{
		{name: "healthy", store: NewMemoryStore(), want: health.StatusOK},
		{
			name:  "unreachable",
			store: &brokenStore{MemoryStore: NewMemoryStore(), err: errors.New("connection refused")},
			want:  health.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewConnectionHealthChecker(logger, tt.store)
			if checker.Name() != "olric-connection" {
				t.Errorf("Name() = %s, want olric-connection", checker.Name())
			}

			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Check() status = %s, want %s, message: %s", result.Status, tt.want, result.Message)
			}
		})
	}
}

func TestClusterHealthChecker(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		store      Store
		quorum     int
		singleNode bool
		want       health.Status
	}{
		{
			name:       "single node always passes",
			store:      &brokenStore{MemoryStore: NewMemoryStore(), err: errors.New("down")},
			quorum:     3,
			singleNode: true,
			want:       health.StatusOK,
		},
		{
			name:   "quorum met",
			store:  &brokenStore{MemoryStore: NewMemoryStore(), members: 3},
			quorum: 2,
			want:   health.StatusOK,
		},
		{
			name:   "below quorum",
			store:  &brokenStore{MemoryStore: NewMemoryStore(), members: 1},
			quorum: 2,
			want:   health.StatusNotReady,
		},
		{
			name:   "stats failure",
			store:  &brokenStore{MemoryStore: NewMemoryStore(), err: errors.New("down")},
			quorum: 1,
			want:   health.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewClusterHealthChecker(logger, tt.store, tt.quorum, tt.singleNode)
			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Check() status = %s, want %s, message: %s", result.Status, tt.want, result.Message)
			}
		})
	}
}

func TestStorageHealthChecker(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	checker := NewStorageHealthChecker(zap.NewNop(), s)

	if checker.Name() != "olric-storage" {
		t.Errorf("Name() = %s, want olric-storage", checker.Name())
	}

	result := checker.Check(ctx)
	if result.Status != health.StatusOK {
		t.Fatalf("Check() status = %s, message: %s", result.Status, result.Message)
	}

	keys, err := s.Keys(ctx, HealthKeyPrefix)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("scratch keys left behind: %v", keys)
	}
}

func TestStorageHealthChecker_Closed(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Close(context.Background())

	result := NewStorageHealthChecker(zap.NewNop(), s).Check(context.Background())
	if result.Status != health.StatusError {
		t.Fatalf("Check() status = %s, want error", result.Status)
	}
	if !strings.Contains(result.Message, "write") {
		t.Errorf("Check() message = %q, want a write failure", result.Message)
	}
}
