package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	wrapped := fmt.Errorf("failed to apply update: %w", &StateTypeError{Path: "x", Operation: OperationIncrement, Value: "a"})
	assert.ErrorIs(t, wrapped, ErrStateType)

	var typeErr *StateTypeError
	require.True(t, errors.As(wrapped, &typeErr))
	assert.Equal(t, "x", typeErr.Path)

	assert.ErrorIs(t, &InvalidGraphError{NodeID: "n"}, ErrInvalidGraph)
	assert.ErrorIs(t, &AccessDeniedError{Path: "p"}, ErrAccessDenied)
	assert.ErrorIs(t, &UnsupportedTargetError{Kind: TargetEmit}, ErrUnsupportedTarget)
	assert.ErrorIs(t, &AccumulationTimeoutError{GroupID: "g"}, ErrAccumulationTimeout)

	cause := &AccessDeniedError{Path: "p", Reason: "immutable"}
	fault := &ScopeFaultError{RunID: "r", Cause: cause}
	assert.ErrorIs(t, fault, ErrScopeFault)
	assert.ErrorIs(t, fault, ErrAccessDenied)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "state_type", ErrorKind(&StateTypeError{}))
	assert.Equal(t, "access_denied", ErrorKind(fmt.Errorf("wrap: %w", &AccessDeniedError{})))
	assert.Equal(t, "accumulation_timeout", ErrorKind(&AccumulationTimeoutError{}))
	assert.Equal(t, "step_failed", ErrorKind(&StepFailedError{Cause: errors.New("boom")}))
	assert.Equal(t, "error", ErrorKind(errors.New("boom")))
}

func TestInvalidGraphErrorMessage(t *testing.T) {
	err := &InvalidGraphError{NodeID: "B", Edge: "A.done -> invoke(B.run)", Reason: "unknown node"}
	assert.Equal(t, `invalid graph: node "B": edge A.done -> invoke(B.run): unknown node`, err.Error())
}

func TestAccumulationTimeoutErrorMessage(t *testing.T) {
	err := &AccumulationTimeoutError{RunID: "r1", GroupID: "G", Missing: []EventKey{{NodeID: "B", EventName: "done"}}}
	assert.Contains(t, err.Error(), "B.done")
}
