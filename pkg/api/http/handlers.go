package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/internal/application/catalog"
	"github.com/aescanero/procflow/pkg/domain"
)

// StartRunRequest starts a run of a registered graph
type StartRunRequest struct {
	Graph  string                 `json:"graph" binding:"required"`
	Inputs map[string]interface{} `json:"inputs"`
}

// StartRunResponse represents a started run
type StartRunResponse struct {
	RunID     string           `json:"run_id"`
	GraphID   string           `json:"graph_id"`
	Status    domain.RunStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
}

// SendEventRequest injects an event into a run
type SendEventRequest struct {
	Node     string      `json:"node"`
	Event    string      `json:"event" binding:"required"`
	Payload  interface{} `json:"payload"`
	ThreadID string      `json:"thread_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "ok"}
	details := gin.H{}
	healthy := true
	for name, check := range s.checks {
		if check.IsHealthy() {
			checks[name] = "ok"
		} else {
			checks[name] = "unhealthy"
			healthy = false
		}
		if r, ok := check.(HealthReporter); ok {
			details[name] = r.Report()
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(code, body)
}

// handleListGraphs lists the registered graphs
func (s *Server) handleListGraphs(c *gin.Context) {
	graphs := s.catalog.List()
	c.JSON(http.StatusOK, gin.H{
		"graphs": graphs,
		"total":  len(graphs),
	})
}

// handleGetGraph describes one registered graph
func (s *Server) handleGetGraph(c *gin.Context) {
	g, ok := s.catalog.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Graph not found",
			},
		})
		return
	}
	c.JSON(http.StatusOK, catalog.Summarize(g))
}

// handleStartRun starts a run of a registered graph
func (s *Server) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	g, ok := s.catalog.Get(req.Graph)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Graph not found",
			},
		})
		return
	}

	runID, err := s.orchestrator.StartRun(c.Request.Context(), g, req.Inputs)
	if err != nil {
		s.fail(c, "failed to start run", err)
		return
	}

	c.JSON(http.StatusCreated, StartRunResponse{
		RunID:     runID,
		GraphID:   g.ID,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
}

// handleListRuns lists active and persisted runs
func (s *Server) handleListRuns(c *gin.Context) {
	ids, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.fail(c, "failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  ids,
		"total": len(ids),
	})
}

// handleGetRun returns a run snapshot
func (s *Server) handleGetRun(c *gin.Context) {
	snap, err := s.orchestrator.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "failed to get run", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleSendEvent routes an external event through a run.
// An omitted node means the event comes from the process itself.
func (s *Server) handleSendEvent(c *gin.Context) {
	var req SendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	runID := c.Param("id")
	node := req.Node
	if node == "" {
		snap, err := s.orchestrator.GetRun(c.Request.Context(), runID)
		if err != nil {
			s.fail(c, "failed to get run", err)
			return
		}
		node = snap.GraphID
	}

	out, err := s.orchestrator.HandleEvent(c.Request.Context(), runID, domain.Event{
		SourceNodeID: node,
		Name:         req.Event,
		Payload:      req.Payload,
		ThreadID:     req.ThreadID,
	})
	if err != nil {
		s.fail(c, "failed to handle event", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// handleExpireWindow forces the join window of a group to time out
func (s *Server) handleExpireWindow(c *gin.Context) {
	out, err := s.orchestrator.ExpireWindow(c.Request.Context(), c.Param("id"), c.Param("group"))
	if err != nil {
		s.fail(c, "failed to expire window", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// handleCancelRun cancels a run
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")
	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		s.fail(c, "failed to cancel run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": domain.RunStatusCancelled,
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logger.Debug("invalid request", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// fail maps domain errors to status codes
func (s *Server) fail(c *gin.Context, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}

	detail := ErrorDetail{Code: code, Message: err.Error()}
	var fault *domain.ScopeFaultError
	if errors.As(err, &fault) {
		detail.Details = gin.H{
			"run_id":   fault.RunID,
			"node_id":  fault.NodeID,
			"group_id": fault.GroupID,
			"kind":     domain.ErrorKind(fault.Cause),
		}
	}
	c.JSON(status, ErrorResponse{Error: detail})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrGroupNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrRunNotActive):
		return http.StatusConflict, "RUN_NOT_ACTIVE"
	case errors.Is(err, domain.ErrScopeFault):
		var fault *domain.ScopeFaultError
		if errors.As(err, &fault) {
			return http.StatusUnprocessableEntity, strings.ToUpper(domain.ErrorKind(fault.Cause))
		}
		return http.StatusUnprocessableEntity, "SCOPE_FAULT"
	case errors.Is(err, domain.ErrVariableNotFound):
		return http.StatusUnprocessableEntity, "VARIABLE_NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidGraph),
		errors.Is(err, domain.ErrStateType),
		errors.Is(err, domain.ErrAccessDenied):
		return http.StatusUnprocessableEntity, strings.ToUpper(domain.ErrorKind(err))
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
