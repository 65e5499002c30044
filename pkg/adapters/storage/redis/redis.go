package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/domain"
)

const keyPrefix = "procflow:run:"

// SnapshotStorage implements ports.SnapshotStorage using Redis
type SnapshotStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSnapshotStorage creates a new Redis snapshot storage. A zero ttl keeps keys forever.
func NewSnapshotStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotStorage {
	return &SnapshotStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a run snapshot
func (s *SnapshotStorage) Save(ctx context.Context, snapshot *domain.RunSnapshot) error {
	if snapshot == nil || snapshot.RunID == "" {
		return errors.New("snapshot with run id is required")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, getRunKey(snapshot.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("run_id", snapshot.RunID),
		zap.String("status", string(snapshot.Status)))

	return nil
}

// Load retrieves the snapshot of a run
func (s *SnapshotStorage) Load(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	data, err := s.client.Get(ctx, getRunKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot domain.RunSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// Delete removes the snapshot of a run
func (s *SnapshotStorage) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, getRunKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	s.logger.Debug("snapshot deleted", zap.String("run_id", runID))
	return nil
}

// Exists checks if a snapshot is stored for a run
func (s *SnapshotStorage) Exists(ctx context.Context, runID string) (bool, error) {
	result, err := s.client.Exists(ctx, getRunKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return result > 0, nil
}

// SetTTL sets a time-to-live for a stored snapshot
func (s *SnapshotStorage) SetTTL(ctx context.Context, runID string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, getRunKey(runID), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set TTL: %w", err)
	}

	return nil
}

// List returns the ids of every stored run
func (s *SnapshotStorage) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var runIDs []string

	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range batch {
			if id := strings.TrimPrefix(key, keyPrefix); id != "" {
				runIDs = append(runIDs, id)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return runIDs, nil
}

// getRunKey returns the Redis key for a run snapshot
func getRunKey(runID string) string {
	return keyPrefix + runID
}
