package messages

import (
	"github.com/aescanero/procflow/pkg/domain"
)

// CreateFromEdge converts a fired invocation edge into a process message.
// The payload is bound to the target's parameter name when one is declared; otherwise the
// parameter map is empty. Non-invocation targets are rejected.
func CreateFromEdge(edge *domain.Edge, sourceEventID string, payload any, threadID string) (domain.ProcessMessage, error) {
	if edge.Target.Kind != domain.TargetInvocation || edge.Target.Invocation == nil {
		return domain.ProcessMessage{}, &domain.UnsupportedTargetError{Kind: edge.Target.Kind, Edge: edge.String()}
	}
	return CreateFromInvocation(edge.SourceNodeID, *edge.Target.Invocation, sourceEventID, edge.GroupID, payload, threadID), nil
}

// CreateFromInvocation builds a message for an invocation outside an edge, such as an error handler target
func CreateFromInvocation(sourceNodeID string, inv domain.Invocation, sourceEventID, groupID string, payload any, threadID string) domain.ProcessMessage {
	params := make(map[string]any)
	switch {
	case inv.InputMapping != nil:
		for k, v := range inv.InputMapping(payload) {
			params[k] = v
		}
	case inv.ParameterName != "":
		params[inv.ParameterName] = payload
	}

	if threadID == "" && inv.Agent != nil {
		threadID = inv.Agent.Thread
	}

	var agent *domain.AgentInvocation
	if inv.Agent != nil {
		copied := *inv.Agent
		if inv.Agent.Inputs != nil {
			copied.Inputs = make(map[string]string, len(inv.Agent.Inputs))
			for k, v := range inv.Agent.Inputs {
				copied.Inputs[k] = v
			}
		}
		agent = &copied
	}

	return domain.ProcessMessage{
		SourceNodeID:       sourceNodeID,
		SourceEventID:      sourceEventID,
		TargetNodeID:       inv.NodeID,
		TargetFunctionName: inv.FunctionName,
		Parameters:         params,
		TargetEventID:      inv.TargetEventID,
		TargetEventData:    payload,
		GroupID:            groupID,
		ThreadID:           threadID,
		Agent:              agent,
	}
}
