package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

// ErrNoExecutor is returned when no executor is registered for a message
var ErrNoExecutor = errors.New("no executor registered")

var _ ports.StepExecutor = (*Router)(nil)

// Router selects a StepExecutor per target node and function.
//
// Lookup order: node and function, node only, agent executor for agent
// invocations, fallback.
type Router struct {
	mu        sync.RWMutex
	functions map[string]ports.StepExecutor
	nodes     map[string]ports.StepExecutor
	agent     ports.StepExecutor
	fallback  ports.StepExecutor
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		functions: make(map[string]ports.StepExecutor),
		nodes:     make(map[string]ports.StepExecutor),
	}
}

// Handle registers the executor for one function of a node
func (r *Router) Handle(nodeID, functionName string, executor ports.StepExecutor) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[nodeID+"."+functionName] = executor
	return r
}

// HandleNode registers the executor for every function of a node
func (r *Router) HandleNode(nodeID string, executor ports.StepExecutor) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = executor
	return r
}

// HandleAgents registers the executor for messages carrying an agent invocation
func (r *Router) HandleAgents(executor ports.StepExecutor) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent = executor
	return r
}

// Fallback registers the executor used when nothing else matches
func (r *Router) Fallback(executor ports.StepExecutor) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = executor
	return r
}

// Execute implements ports.StepExecutor
func (r *Router) Execute(ctx context.Context, msg domain.ProcessMessage) (any, error) {
	executor := r.lookup(msg)
	if executor == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoExecutor, msg.TargetNodeID, msg.TargetFunctionName)
	}
	return executor.Execute(ctx, msg)
}

func (r *Router) lookup(msg domain.ProcessMessage) ports.StepExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.functions[msg.TargetNodeID+"."+msg.TargetFunctionName]; ok {
		return e
	}
	if e, ok := r.nodes[msg.TargetNodeID]; ok {
		return e
	}
	if msg.Agent != nil && r.agent != nil {
		return r.agent
	}
	return r.fallback
}
