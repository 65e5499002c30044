package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/procflow/pkg/domain"
)

func setupStorage(t *testing.T, ttl time.Duration) (*SnapshotStorage, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSnapshotStorage(client, ttl, zaptest.NewLogger(t)), mr
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, mr := setupStorage(t, time.Hour)
	ctx := context.Background()

	snap := &domain.RunSnapshot{
		RunID:   "run-1",
		GraphID: "review",
		Status:  domain.RunStatusRunning,
		State:   map[string]any{"draft": "v1"},
		Windows: map[string]domain.WindowSnapshot{
			"both": {GroupID: "both", State: domain.WindowAccumulating, Observed: []domain.EventKey{{NodeID: "A", EventName: "done"}}},
		},
	}
	require.NoError(t, s.Save(ctx, snap))
	assert.True(t, mr.Exists("procflow:run:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("procflow:run:run-1"))

	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "review", loaded.GraphID)
	assert.Equal(t, "v1", loaded.State["draft"])
	assert.Equal(t, domain.WindowAccumulating, loaded.Windows["both"].State)
}

func TestLoadMissingRun(t *testing.T) {
	s, _ := setupStorage(t, 0)
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestListExistsDelete(t *testing.T) {
	s, mr := setupStorage(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &domain.RunSnapshot{RunID: "a"}))
	require.NoError(t, s.Save(ctx, &domain.RunSnapshot{RunID: "b"}))
	require.NoError(t, mr.Set("unrelated", "x"))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.SetTTL(ctx, "a", time.Minute))
	mr.FastForward(2 * time.Minute)

	exists, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Delete(ctx, "b"))
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
