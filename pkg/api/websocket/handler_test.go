package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/procflow/pkg/adapters/events/memory"
	"github.com/aescanero/procflow/pkg/ports"
)

func TestHandleRunStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := memory.NewInMemoryEventBus(zaptest.NewLogger(t))
	defer bus.Close()

	router := gin.New()
	router.GET("/api/v1/runs/:id/stream", NewHandler(bus, zaptest.NewLogger(t)).HandleRunStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/runs/run-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicRunEvents) == 1 && bus.Subscribers(ports.TopicEmitted) == 1
	}, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, ports.TopicEmitted, ports.Event{ID: "other", ExecutionID: "run-2", Type: ports.EventTypeProcessEmitted}))
	require.NoError(t, bus.Publish(ctx, ports.TopicEmitted, ports.Event{ID: "e1", ExecutionID: "run-1", Type: ports.EventTypeProcessEmitted, Name: "approved"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event ports.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "e1", event.ID)
	assert.Equal(t, "approved", event.Name)

	require.NoError(t, bus.Publish(ctx, ports.TopicRunEvents, ports.Event{ID: "e2", ExecutionID: "run-1", Type: ports.EventTypeRunCompleted}))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, ports.EventTypeRunCompleted, event.Type)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
