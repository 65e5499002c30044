package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/aescanero/procflow/pkg/domain"
)

// Store holds the variables of one process run
type Store struct {
	variables map[string]*domain.Variable
	values    map[string]any
	mu        sync.RWMutex
}

// NewStore creates a store seeded with variable defaults. Inputs override defaults of declared variables.
func NewStore(variables map[string]*domain.Variable, inputs map[string]any) (*Store, error) {
	s := &Store{
		variables: make(map[string]*domain.Variable, len(variables)),
		values:    make(map[string]any, len(variables)),
	}
	for name, v := range variables {
		s.variables[name] = v
		s.values[name] = cloneValue(v.Default)
	}
	for name, value := range inputs {
		if _, ok := s.variables[name]; !ok {
			return nil, fmt.Errorf("input %q: %w", name, domain.ErrVariableNotFound)
		}
		s.values[name] = cloneValue(value)
	}
	return s, nil
}

// Read returns the value at path
func (s *Store) Read(path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return cloneValue(value), nil
}

// ReadAs returns the value at path after checking the node's read access
func (s *Store) ReadAs(nodeID, path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := domain.RootSegment(path)
	if v, ok := s.variables[root]; ok && nodeID != "" && !v.Allows(nodeID, domain.AccessRead) {
		return nil, &domain.AccessDeniedError{NodeID: nodeID, Path: path, Reason: "read not permitted"}
	}
	value, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return cloneValue(value), nil
}

// Apply performs update on behalf of nodeID. An empty nodeID acts as the process itself and skips ACL checks.
// A failed update leaves the store unchanged.
func (s *Store) Apply(nodeID string, update domain.VariableUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	segments := strings.Split(update.Path, ".")
	root := segments[0]
	v, ok := s.variables[root]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrVariableNotFound, root)
	}
	if nodeID != "" && !v.Allows(nodeID, domain.AccessWrite) {
		return &domain.AccessDeniedError{NodeID: nodeID, Path: update.Path, Reason: "write not permitted"}
	}
	if v.Immutable {
		return &domain.AccessDeniedError{NodeID: nodeID, Path: update.Path, Reason: "variable is immutable"}
	}

	var next any
	switch update.Operation {
	case domain.OperationSet:
		next = cloneValue(update.Value)
	case domain.OperationIncrement, domain.OperationDecrement:
		current, err := s.lookup(update.Path)
		if err != nil {
			return err
		}
		next, err = arithmetic(update, current)
		if err != nil {
			return err
		}
	}

	updated, err := assign(s.values[root], segments[1:], next, update)
	if err != nil {
		return err
	}
	s.values[root] = updated
	return nil
}

// Snapshot returns a deep copy of all values
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Restore replaces all values with a copy of values, as taken by Snapshot.
// Variable declarations, ACLs and immutability are untouched.
func (s *Store) Restore(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]any, len(values))
	for k, v := range values {
		s.values[k] = cloneValue(v)
	}
}

func (s *Store) lookup(path string) (any, error) {
	segments := strings.Split(path, ".")
	current, ok := s.values[segments[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVariableNotFound, path)
	}
	for _, seg := range segments[1:] {
		m, isMap := current.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("%w: %s", domain.ErrVariableNotFound, path)
		}
		if current, ok = m[seg]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrVariableNotFound, path)
		}
	}
	return current, nil
}

// assign writes value below node without mutating the maps it was given
func assign(node any, segments []string, value any, update domain.VariableUpdate) (any, error) {
	if len(segments) == 0 {
		return value, nil
	}
	var m map[string]any
	switch typed := node.(type) {
	case nil:
		m = map[string]any{}
	case map[string]any:
		m = make(map[string]any, len(typed)+1)
		for k, v := range typed {
			m[k] = v
		}
	default:
		return nil, &domain.StateTypeError{Path: update.Path, Operation: update.Operation, Value: node}
	}
	child, err := assign(m[segments[0]], segments[1:], value, update)
	if err != nil {
		return nil, err
	}
	m[segments[0]] = child
	return m, nil
}

func arithmetic(update domain.VariableUpdate, current any) (any, error) {
	delta := update.Value
	if delta == nil {
		delta = 1
	}
	ci, cf, cIsFloat, ok := toNumber(current)
	if !ok {
		return nil, &domain.StateTypeError{Path: update.Path, Operation: update.Operation, Value: current}
	}
	di, df, dIsFloat, ok := toNumber(delta)
	if !ok {
		return nil, &domain.StateTypeError{Path: update.Path, Operation: update.Operation, Value: delta}
	}

	decrement := update.Operation == domain.OperationDecrement
	if !cIsFloat && !dIsFloat {
		sum, ok := addInt64(ci, di, decrement)
		if !ok {
			return nil, &domain.StateTypeError{Path: update.Path, Operation: update.Operation, Value: current, Reason: "integer overflow"}
		}
		return sum, nil
	}
	if decrement {
		df = -df
	}
	return cf + df, nil
}

// addInt64 returns a+d (a-d when negate) and false when the result overflows int64
func addInt64(a, d int64, negate bool) (int64, bool) {
	if negate {
		if d == math.MinInt64 {
			return 0, false
		}
		d = -d
	}
	if (d > 0 && a > math.MaxInt64-d) || (d < 0 && a < math.MinInt64-d) {
		return 0, false
	}
	return a + d, true
}

func toNumber(v any) (int64, float64, bool, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), float64(n), false, true
	case int8:
		return int64(n), float64(n), false, true
	case int16:
		return int64(n), float64(n), false, true
	case int32:
		return int64(n), float64(n), false, true
	case int64:
		return n, float64(n), false, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, 0, false, false
		}
		return int64(n), float64(n), false, true
	case uint8:
		return int64(n), float64(n), false, true
	case uint16:
		return int64(n), float64(n), false, true
	case uint32:
		return int64(n), float64(n), false, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, 0, false, false
		}
		return int64(n), float64(n), false, true
	case float32:
		return int64(n), float64(n), true, true
	case float64:
		return int64(n), n, true, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, float64(i), false, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), f, true, true
		}
	}
	return 0, 0, false, false
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = cloneValue(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for k, val := range typed {
			out[k] = val
		}
		return out
	default:
		return v
	}
}
