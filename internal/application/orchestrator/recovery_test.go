package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/procflow/pkg/builder"
	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

// badIncrementBuilder wires A.done to an increment of a string variable
func badIncrementBuilder(hooks ...domain.OnEventAction) *builder.Builder {
	b := builder.New("faulty").
		Node(domain.Node{ID: "A", OnError: hooks}, domain.Node{ID: "B"}, domain.Node{ID: "Recover"}).
		Variable(
			domain.Variable{Name: "label", Default: "draft"},
			domain.Variable{Name: "failures", Default: 0},
		)
	b.AddSource("A", "done").Update(domain.VariableUpdate{Path: "label", Operation: domain.OperationIncrement})
	return b
}

func TestNodeHookRecoversStateTypeError(t *testing.T) {
	hook := domain.OnEventAction{Condition: domain.Always().
		WithUpdates(domain.VariableUpdate{Path: "failures", Operation: domain.OperationIncrement}).
		WithEmits(domain.EventEmission{EventType: "recovered"})}
	b := badIncrementBuilder(hook)
	b.AddSource("A", "recovered").SendTo(domain.Invocation{NodeID: "B", FunctionName: "notify", ParameterName: "error"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	out := f.send(t, runID, "A", "done", nil)
	assert.Equal(t, domain.RunStatusRunning, out.Status)
	require.Len(t, out.Messages, 1)

	info, ok := out.Messages[0].Parameters["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "state_type", info["kind"])

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "draft", snap.State["label"])
	assert.Equal(t, int64(1), snap.State["failures"])
}

func TestNodeHookConditionsUseErrorDescriptor(t *testing.T) {
	evaluator := func(_ context.Context, expression string, _ map[string]any, payload any) (bool, error) {
		info := payload.(map[string]any)
		return info["kind"] == expression, nil
	}
	hooks := []domain.OnEventAction{
		{Condition: domain.Eval("access_denied").WithEmits(domain.EventEmission{EventType: "denied"})},
		{Condition: domain.Eval("state_type").WithEmits(domain.EventEmission{EventType: "mistyped"})},
	}
	b := badIncrementBuilder(hooks...)
	b.AddSource("A", "mistyped").SendTo(domain.Invocation{NodeID: "B", FunctionName: "fix"})
	b.AddSource("A", "denied").SendTo(domain.Invocation{NodeID: "B", FunctionName: "deny"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, ports.ConditionEvaluatorFunc(evaluator))
	out := f.send(t, f.start(t, g), "A", "done", nil)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "fix", out.Messages[0].TargetFunctionName)
}

func TestUnhandledFaultHaltsOnlyItsRun(t *testing.T) {
	g, err := badIncrementBuilder().Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	faulty := f.start(t, g)
	healthy := f.start(t, g)

	_, err = f.orch.HandleEvent(context.Background(), faulty, domain.Event{SourceNodeID: "A", Name: "done"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrScopeFault)
	assert.ErrorIs(t, err, domain.ErrStateType)

	var fault *domain.ScopeFaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "A", fault.NodeID)

	snap, err := f.orch.GetRun(context.Background(), faulty)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFaulted, snap.Status)
	assert.Equal(t, "draft", snap.State["label"])

	_, err = f.orch.HandleEvent(context.Background(), faulty, domain.Event{SourceNodeID: "A", Name: "done"})
	assert.ErrorIs(t, err, domain.ErrRunNotActive)

	snap, err = f.orch.GetRun(context.Background(), healthy)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, snap.Status)
}

func TestGraphLevelHandlerByKind(t *testing.T) {
	emit, err := domain.NewEmitTarget("mistyped", map[string]string{"severity": "low"})
	require.NoError(t, err)
	b := badIncrementBuilder().OnError("state_type", emit)
	b.AddSource("faulty", "mistyped").SendTo(domain.Invocation{NodeID: "Recover", FunctionName: "run", ParameterName: "alert"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	out := f.send(t, f.start(t, g), "A", "done", nil)
	assert.Equal(t, domain.RunStatusRunning, out.Status)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "Recover", out.Messages[0].TargetNodeID)
	assert.Equal(t, map[string]string{"severity": "low"}, out.Messages[0].Parameters["alert"])
}

func TestGraphLevelDefaultHandler(t *testing.T) {
	recoverTarget, err := domain.NewInvocationTarget(domain.Invocation{NodeID: "Recover", FunctionName: "run", ParameterName: "error"})
	require.NoError(t, err)
	g, err := badIncrementBuilder().OnError("access_denied", recoverTarget).DefaultErrorHandler(recoverTarget).Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	out := f.send(t, f.start(t, g), "A", "done", nil)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "faulty", out.Messages[0].SourceNodeID)
	info := out.Messages[0].Parameters["error"].(map[string]any)
	assert.Equal(t, "A", info["node"])
}

func TestImmutableUpdateRoutesAccessDenied(t *testing.T) {
	stop, err := domain.NewInvocationTarget(domain.Invocation{NodeID: domain.EndNodeID, FunctionName: domain.EndFunctionName})
	require.NoError(t, err)
	b := builder.New("immutable").Node(domain.Node{ID: "A"}).
		Variable(domain.Variable{Name: "version", Default: "v1", Immutable: true}).
		OnError("access_denied", stop)
	b.AddSource("A", "done").Update(domain.VariableUpdate{Path: "version", Operation: domain.OperationSet, Value: "v2"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	out := f.send(t, runID, "A", "done", nil)
	assert.Equal(t, domain.RunStatusCompleted, out.Status)

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "v1", snap.State["version"])
}

func stepGraph(t *testing.T) *domain.Graph {
	t.Helper()
	b := builder.New("steps").
		Node(
			domain.Node{ID: "A"},
			domain.Node{ID: "B", OnComplete: []domain.OnEventAction{{Condition: domain.Always().
				WithUpdates(domain.VariableUpdate{Path: "completed", Operation: domain.OperationIncrement})}}},
			domain.Node{ID: "C"},
		).
		Variable(domain.Variable{Name: "completed", Default: 0})
	b.AddSource("A", "done").SendTo(domain.Invocation{NodeID: "B", FunctionName: "run", ParameterName: "input"})
	b.AddSource("B", domain.ResultEventName("run")).SendTo(domain.Invocation{NodeID: "C", FunctionName: "next", ParameterName: "input"})
	b.AddSource("B", "escalate").SendTo(domain.Invocation{NodeID: "C", FunctionName: "escalate"})
	b.AddSource("B", domain.ErrorEventName("run")).SendTo(domain.Invocation{NodeID: "C", FunctionName: "cleanup", ParameterName: "error"})
	g, err := b.Seal()
	require.NoError(t, err)
	return g
}

func TestStepResultReentersGraph(t *testing.T) {
	f := newFixture(t, nil)
	runID := f.start(t, stepGraph(t))
	out := f.send(t, runID, "A", "done", "payload")
	require.Len(t, out.Messages, 1)

	next, err := f.orch.HandleStepResult(context.Background(), out.Messages[0], "result")
	require.NoError(t, err)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "next", next.Messages[0].TargetFunctionName)
	assert.Equal(t, "result", next.Messages[0].Parameters["input"])
	assert.Equal(t, out.Messages[0].ID, next.Messages[0].SourceEventID)

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.State["completed"])
}

func TestStepOutputChoosesEvent(t *testing.T) {
	f := newFixture(t, nil)
	runID := f.start(t, stepGraph(t))
	out := f.send(t, runID, "A", "done", nil)
	require.Len(t, out.Messages, 1)

	next, err := f.orch.HandleStepResult(context.Background(), out.Messages[0], domain.StepOutput{EventName: "escalate"})
	require.NoError(t, err)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "escalate", next.Messages[0].TargetFunctionName)
}

func TestStepFailureRoutesToErrorEvent(t *testing.T) {
	f := newFixture(t, nil)
	runID := f.start(t, stepGraph(t))
	out := f.send(t, runID, "A", "done", nil)
	require.Len(t, out.Messages, 1)

	next, err := f.orch.HandleStepFailure(context.Background(), out.Messages[0], errors.New("boom"))
	require.NoError(t, err)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "cleanup", next.Messages[0].TargetFunctionName)
	info := next.Messages[0].Parameters["error"].(map[string]any)
	assert.Equal(t, "step_failed", info["kind"])
	assert.Contains(t, info["error"], "boom")
}

func TestStepFailureWithoutHandlerFaultsRun(t *testing.T) {
	b := builder.New("bare").Node(domain.Node{ID: "A"}, domain.Node{ID: "B"})
	b.AddSource("A", "done").SendTo(domain.Invocation{NodeID: "B", FunctionName: "run"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	out := f.send(t, runID, "A", "done", nil)
	require.Len(t, out.Messages, 1)

	err = f.orch.FailStep(context.Background(), out.Messages[0], errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrStepFailed)

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFaulted, snap.Status)
}

func TestExpireWindowUnhandledFaultsOnlyWindow(t *testing.T) {
	b := builder.New("expire").Node(nodes("A", "B", "End")...).Variable(domain.Variable{Name: "counter", Default: 0})
	join, err := b.JoinNamed("G", b.AddSource("A", "done"), b.AddSource("B", "done"))
	require.NoError(t, err)
	join.Update(domain.VariableUpdate{Path: "counter", Operation: domain.OperationIncrement})
	b.AddSource("A", "done").SendTo(domain.Invocation{NodeID: "End", FunctionName: "observe"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	f.send(t, runID, "A", "done", nil)

	out, err := f.orch.ExpireWindow(context.Background(), runID, "G")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAccumulationTimeout)
	var fault *domain.ScopeFaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "G", fault.GroupID)
	assert.True(t, out.Expired)
	assert.Equal(t, domain.RunStatusRunning, out.Status)

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.WindowFaulted, snap.Windows["G"].State)
	assert.Equal(t, 0, snap.State["counter"])

	// The faulted window ignores members; ungrouped edges keep working.
	out = f.send(t, runID, "A", "done", nil)
	assert.Len(t, out.Messages, 1)
	f.send(t, runID, "B", "done", nil)
	snap, err = f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.State["counter"])
}

func TestExpireWindowHandledRearms(t *testing.T) {
	alert, err := domain.NewEmitTarget("join_expired", nil)
	require.NoError(t, err)
	b := builder.New("expire").Node(nodes("A", "B", "End")...).OnError("accumulation_timeout", alert)
	join, err := b.JoinNamed("G", b.AddSource("A", "done"), b.AddSource("B", "done"))
	require.NoError(t, err)
	join.SendTo(domain.Invocation{NodeID: "End", FunctionName: "finish"})
	b.AddSource("expire", "join_expired").SendTo(domain.Invocation{NodeID: "End", FunctionName: "report"})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	f.send(t, runID, "A", "done", nil)

	out, err := f.orch.ExpireWindow(context.Background(), runID, "G")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "report", out.Messages[0].TargetFunctionName)

	// B alone must not complete the join: A's observation was discarded.
	assert.Empty(t, f.send(t, runID, "B", "done", nil).Messages)
	assert.Len(t, f.send(t, runID, "A", "done", nil).Messages, 1)
}

func TestExpireIdleWindowIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	runID := f.start(t, joinGraph(t))

	out, err := f.orch.ExpireWindow(context.Background(), runID, "G")
	require.NoError(t, err)
	assert.False(t, out.Expired)

	_, err = f.orch.ExpireWindow(context.Background(), runID, "missing")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestJoinTimeoutPolicyExpiresWindow(t *testing.T) {
	f := newFixture(t, nil, WithJoinTimeout(20*time.Millisecond))
	runID := f.start(t, joinGraph(t))
	f.send(t, runID, "A", "done", nil)

	assert.Eventually(t, func() bool {
		snap, err := f.orch.GetRun(context.Background(), runID)
		return err == nil && snap.Windows["G"].State == domain.WindowFaulted
	}, time.Second, 5*time.Millisecond)
}

func TestFailedFanOutRollsBackSiblingEdges(t *testing.T) {
	recoverTarget, err := domain.NewInvocationTarget(domain.Invocation{NodeID: "Recover", FunctionName: "run", ParameterName: "error"})
	require.NoError(t, err)
	b := builder.New("fanout").
		Node(domain.Node{ID: "A"}, domain.Node{ID: "B"}, domain.Node{ID: "Recover"}).
		Variable(
			domain.Variable{Name: "counter", Default: 0},
			domain.Variable{Name: "label", Default: "x"},
		).
		DefaultErrorHandler(recoverTarget)
	src := b.AddSource("A", "go")
	src.Update(domain.VariableUpdate{Path: "counter", Operation: domain.OperationIncrement})
	src.Emit("progress", nil)
	src.SendTo(domain.Invocation{NodeID: "B", FunctionName: "work"})
	src.Update(domain.VariableUpdate{Path: "label", Operation: domain.OperationIncrement})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	out := f.send(t, runID, "A", "go", nil)
	assert.Equal(t, domain.RunStatusRunning, out.Status)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "Recover", out.Messages[0].TargetNodeID)
	assert.Empty(t, out.Emitted)
	assert.Empty(t, f.publisher.topic(ports.TopicEmitted))

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"counter": 0, "label": "x"}, snap.State)
}

func TestJoinActsAsCompletingMember(t *testing.T) {
	b := builder.New("acl-join").
		Node(domain.Node{ID: "A"}, domain.Node{ID: "B"}).
		Variable(domain.Variable{Name: "total", Default: 0, ACL: []domain.AccessControl{
			{NodeID: "B", Access: domain.AccessWrite},
		}})
	join, err := b.JoinNamed("G", b.AddSource("A", "done"), b.AddSource("B", "done"))
	require.NoError(t, err)
	join.Update(domain.VariableUpdate{Path: "total", Operation: domain.OperationIncrement})
	g, err := b.Seal()
	require.NoError(t, err)

	f := newFixture(t, nil)
	runID := f.start(t, g)
	f.send(t, runID, "A", "done", nil)
	f.send(t, runID, "B", "done", nil)

	snap, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.State["total"])

	f.send(t, runID, "B", "done", nil)
	_, err = f.orch.HandleEvent(context.Background(), runID, domain.Event{SourceNodeID: "A", Name: "done"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	var fault *domain.ScopeFaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "A", fault.NodeID)
}
