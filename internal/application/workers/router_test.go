package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

func returning(v string) ports.StepExecutorFunc {
	return func(context.Context, domain.ProcessMessage) (any, error) { return v, nil }
}

func TestRouterLookupOrder(t *testing.T) {
	r := NewRouter().
		Handle("B", "run", returning("function")).
		HandleNode("B", returning("node")).
		HandleAgents(returning("agent")).
		Fallback(returning("fallback"))

	tests := []struct {
		name string
		msg  domain.ProcessMessage
		want string
	}{
		{"function", domain.ProcessMessage{TargetNodeID: "B", TargetFunctionName: "run"}, "function"},
		{"node", domain.ProcessMessage{TargetNodeID: "B", TargetFunctionName: "other"}, "node"},
		{"agent", domain.ProcessMessage{TargetNodeID: "C", Agent: &domain.AgentInvocation{}}, "agent"},
		{"fallback", domain.ProcessMessage{TargetNodeID: "C"}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(context.Background(), tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouterWithoutExecutor(t *testing.T) {
	_, err := NewRouter().Execute(context.Background(), domain.ProcessMessage{TargetNodeID: "X", TargetFunctionName: "y"})
	assert.ErrorIs(t, err, ErrNoExecutor)
}
