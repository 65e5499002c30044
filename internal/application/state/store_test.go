package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/procflow/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(map[string]*domain.Variable{
		"counter": {Name: "counter", Type: "integer", Default: 0},
		"label":   {Name: "label", Type: "string", Default: "draft"},
		"version": {Name: "version", Default: "v1", Immutable: true},
		"score": {Name: "score", Default: 1.5, ACL: []domain.AccessControl{
			{NodeID: "judge", Access: domain.AccessReadWrite},
			{NodeID: "viewer", Access: domain.AccessRead},
		}},
		"review": {Name: "review", Default: map[string]any{"status": "open"}},
	}, nil)
	require.NoError(t, err)
	return store
}

func TestIncrementThreeTimes(t *testing.T) {
	store := newTestStore(t)
	update := domain.VariableUpdate{Path: "counter", Operation: domain.OperationIncrement, Value: 1}

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Apply("A", update))
	}

	value, err := store.Read("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
}

func TestDecrementWithDefaultDelta(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Apply("", domain.VariableUpdate{Path: "counter", Operation: domain.OperationDecrement}))

	value, err := store.Read("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), value)
}

func TestIncrementFloat(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Apply("judge", domain.VariableUpdate{Path: "score", Operation: domain.OperationIncrement, Value: 2}))

	value, err := store.Read("score")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, value, 0.0001)
}

func TestIncrementNonNumericLeavesStoreUnchanged(t *testing.T) {
	store := newTestStore(t)
	before := store.Snapshot()

	err := store.Apply("A", domain.VariableUpdate{Path: "label", Operation: domain.OperationIncrement, Value: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateType)

	err = store.Apply("A", domain.VariableUpdate{Path: "counter", Operation: domain.OperationDecrement, Value: "two"})
	assert.ErrorIs(t, err, domain.ErrStateType)

	assert.Equal(t, before, store.Snapshot())
}

func TestSetImmutableIsDenied(t *testing.T) {
	store := newTestStore(t)

	err := store.Apply("", domain.VariableUpdate{Path: "version", Operation: domain.OperationSet, Value: "v2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	value, err := store.Read("version")
	require.NoError(t, err)
	assert.Equal(t, "v1", value)
}

func TestACLChecksActingNode(t *testing.T) {
	store := newTestStore(t)

	err := store.Apply("viewer", domain.VariableUpdate{Path: "score", Operation: domain.OperationSet, Value: 9.0})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = store.ReadAs("viewer", "score")
	assert.NoError(t, err)

	_, err = store.ReadAs("stranger", "score")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	require.NoError(t, store.Apply("judge", domain.VariableUpdate{Path: "score", Operation: domain.OperationSet, Value: 9.0}))
	value, err := store.Read("score")
	require.NoError(t, err)
	assert.Equal(t, 9.0, value)
}

func TestNestedSetIsCopyOnWrite(t *testing.T) {
	store := newTestStore(t)
	before, err := store.Read("review")
	require.NoError(t, err)

	require.NoError(t, store.Apply("", domain.VariableUpdate{Path: "review.details.reviewer", Operation: domain.OperationSet, Value: "kim"}))

	value, err := store.Read("review.details.reviewer")
	require.NoError(t, err)
	assert.Equal(t, "kim", value)
	assert.Equal(t, map[string]any{"status": "open"}, before)

	status, err := store.Read("review.status")
	require.NoError(t, err)
	assert.Equal(t, "open", status)
}

func TestNestedSetThroughScalarFails(t *testing.T) {
	store := newTestStore(t)
	err := store.Apply("", domain.VariableUpdate{Path: "label.inner", Operation: domain.OperationSet, Value: 1})
	assert.ErrorIs(t, err, domain.ErrStateType)
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Read("missing")
	assert.ErrorIs(t, err, domain.ErrVariableNotFound)

	_, err = store.Read("review.nope")
	assert.ErrorIs(t, err, domain.ErrVariableNotFound)

	err = store.Apply("", domain.VariableUpdate{Path: "missing", Operation: domain.OperationSet, Value: 1})
	assert.ErrorIs(t, err, domain.ErrVariableNotFound)
}

func TestInputsOverrideDefaults(t *testing.T) {
	store, err := NewStore(map[string]*domain.Variable{"counter": {Name: "counter", Default: 0}}, map[string]any{"counter": 10})
	require.NoError(t, err)
	value, err := store.Read("counter")
	require.NoError(t, err)
	assert.Equal(t, 10, value)

	_, err = NewStore(nil, map[string]any{"unknown": 1})
	assert.ErrorIs(t, err, domain.ErrVariableNotFound)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store := newTestStore(t)
	snap := store.Snapshot()
	snap["review"].(map[string]any)["status"] = "closed"

	value, err := store.Read("review.status")
	require.NoError(t, err)
	assert.Equal(t, "open", value)
}

func TestIncrementOverflowIsStateTypeError(t *testing.T) {
	store, err := NewStore(map[string]*domain.Variable{
		"max":  {Name: "max", Default: int64(math.MaxInt64)},
		"min":  {Name: "min", Default: int64(math.MinInt64)},
		"huge": {Name: "huge", Default: uint64(math.MaxUint64)},
	}, nil)
	require.NoError(t, err)
	before := store.Snapshot()

	err = store.Apply("", domain.VariableUpdate{Path: "max", Operation: domain.OperationIncrement})
	assert.ErrorIs(t, err, domain.ErrStateType)
	assert.Contains(t, err.Error(), "integer overflow")

	err = store.Apply("", domain.VariableUpdate{Path: "min", Operation: domain.OperationDecrement})
	assert.ErrorIs(t, err, domain.ErrStateType)

	err = store.Apply("", domain.VariableUpdate{Path: "max", Operation: domain.OperationDecrement, Value: int64(math.MinInt64)})
	assert.ErrorIs(t, err, domain.ErrStateType)

	err = store.Apply("", domain.VariableUpdate{Path: "huge", Operation: domain.OperationIncrement})
	assert.ErrorIs(t, err, domain.ErrStateType)

	err = store.Apply("", domain.VariableUpdate{Path: "min", Operation: domain.OperationIncrement, Value: uint64(math.MaxUint64)})
	assert.ErrorIs(t, err, domain.ErrStateType)

	assert.Equal(t, before, store.Snapshot())
}

func TestRestoreRevertsValues(t *testing.T) {
	store := newTestStore(t)
	saved := store.Snapshot()

	require.NoError(t, store.Apply("A", domain.VariableUpdate{Path: "counter", Operation: domain.OperationIncrement}))
	require.NoError(t, store.Apply("A", domain.VariableUpdate{Path: "review.status", Operation: domain.OperationSet, Value: "closed"}))

	store.Restore(saved)
	assert.Equal(t, saved, store.Snapshot())

	// the store keeps its own copy
	saved["counter"] = 99
	value, err := store.Read("counter")
	require.NoError(t, err)
	assert.Equal(t, 0, value)
}
