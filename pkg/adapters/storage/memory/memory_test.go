package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/procflow/pkg/domain"
)

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySnapshotStorage()

	snap := &domain.RunSnapshot{
		RunID:   "run-1",
		GraphID: "g",
		Status:  domain.RunStatusRunning,
		State:   map[string]any{"count": 1},
	}
	require.NoError(t, s.Save(ctx, snap))

	snap.State["count"] = 2
	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), loaded.State["count"])

	exists, err := s.Exists(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "run-1"))
	_, err = s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSaveRequiresRunID(t *testing.T) {
	s := NewInMemorySnapshotStorage()
	assert.Error(t, s.Save(context.Background(), &domain.RunSnapshot{}))
	assert.Error(t, s.Save(context.Background(), nil))
}

func TestTTLExpiresEntries(t *testing.T) {
	ctx := context.Background()
	s := NewInMemorySnapshotStorage()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, &domain.RunSnapshot{RunID: "a"}))
	require.NoError(t, s.Save(ctx, &domain.RunSnapshot{RunID: "b"}))
	require.NoError(t, s.SetTTL(ctx, "a", time.Minute))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	now = now.Add(2 * time.Minute)
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	assert.ErrorIs(t, s.SetTTL(ctx, "a", time.Minute), domain.ErrRunNotFound)
}
