package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/procflow/internal/application/catalog"
	"github.com/aescanero/procflow/internal/application/orchestrator"
	metrics "github.com/aescanero/procflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/procflow/pkg/builder"
	"github.com/aescanero/procflow/pkg/domain"
)

type staticCheck bool

func (s staticCheck) IsHealthy() bool { return bool(s) }

func testGraph(t *testing.T) *domain.Graph {
	t.Helper()
	b := builder.New("intake").
		Node(domain.Node{ID: "A"}, domain.Node{ID: "B"}).
		Variable(domain.Variable{Name: "label", Default: "draft"})
	b.AddSource("intake", "submitted").SendTo(domain.Invocation{NodeID: "A", FunctionName: "run", ParameterName: "request"})
	b.AddSource("A", "done").Stop()
	b.AddSource("A", "bump").Update(domain.VariableUpdate{Path: "label", Operation: domain.OperationIncrement})
	join, err := b.JoinNamed("both", b.AddSource("A", "x"), b.AddSource("B", "y"))
	require.NoError(t, err)
	join.SendTo(domain.Invocation{NodeID: "B", FunctionName: "merge"})

	g, err := b.Seal()
	require.NoError(t, err)
	return g
}

func newTestServer(t *testing.T, checks map[string]HealthChecker) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()

	orch := orchestrator.New(nil, logger, orchestrator.WithMetrics(metrics.NewCollector(reg)))
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	cat, err := catalog.New(testGraph(t))
	require.NoError(t, err)

	return NewServer(&Config{
		Port:           0,
		Orchestrator:   orch,
		Catalog:        cat,
		Checks:         checks,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         logger,
	})
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func startRun(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/runs", StartRunRequest{Graph: "intake"})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[StartRunResponse](t, rec).RunID
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, map[string]HealthChecker{"workers": staticCheck(true)}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, newTestServer(t, map[string]HealthChecker{"workers": staticCheck(false)}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workers":"unhealthy"`)
}

type reportingCheck struct{ pending int }

func (reportingCheck) IsHealthy() bool { return true }
func (r reportingCheck) Report() any  { return map[string]int{"pending_steps": r.pending} }

func TestHealthIncludesReports(t *testing.T) {
	rec := do(t, newTestServer(t, map[string]HealthChecker{"workers": reportingCheck{pending: 3}}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"details":{"workers":{"pending_steps":3}}`)

	rec = do(t, newTestServer(t, map[string]HealthChecker{"workers": staticCheck(true)}), http.MethodGet, "/health", nil)
	assert.NotContains(t, rec.Body.String(), `"details"`)
}

func TestGraphs(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/graphs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Graphs []catalog.Summary `json:"graphs"`
		Total  int               `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, []string{"both"}, body.Graphs[0].Groups)

	rec = do(t, s, http.MethodGet, "/api/v1/graphs/intake", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/graphs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRunErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing graph field", map[string]string{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown graph", StartRunRequest{Graph: "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown input", StartRunRequest{Graph: "intake", Inputs: map[string]interface{}{"missing": 1}}, http.StatusUnprocessableEntity, "VARIABLE_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error.Code)
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/events", SendEventRequest{Event: "submitted", Payload: "req-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[orchestrator.Outcome](t, rec)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "A", out.Messages[0].TargetNodeID)
	assert.Equal(t, "req-1", out.Messages[0].Parameters["request"])

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunStatusRunning, decode[domain.RunSnapshot](t, rec).Status)

	rec = do(t, s, http.MethodGet, "/api/v1/runs", nil)
	assert.Contains(t, rec.Body.String(), runID)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/events", SendEventRequest{Node: "A", Event: "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunStatusCompleted, decode[orchestrator.Outcome](t, rec).Status)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/events", SendEventRequest{Node: "A", Event: "done"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScopeFaultMapsToUnprocessable(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/events", SendEventRequest{Node: "A", Event: "bump"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "STATE_TYPE", resp.Error.Code)
	assert.Equal(t, "A", resp.Error.Details.(map[string]interface{})["node_id"])

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil)
	assert.Equal(t, domain.RunStatusFaulted, decode[domain.RunSnapshot](t, rec).Status)
}

func TestExpireWindow(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/events", SendEventRequest{Node: "A", Event: "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/groups/both/expire", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ACCUMULATION_TIMEOUT", decode[ErrorResponse](t, rec).Error.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil)
	snap := decode[domain.RunSnapshot](t, rec)
	assert.Equal(t, domain.RunStatusRunning, snap.Status)
	assert.Equal(t, domain.WindowFaulted, snap.Windows["both"].State)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/groups/unknown/expire", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	startRun(t, s)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `procflow_runs_started_total{graph_id="intake"} 1`)
}
