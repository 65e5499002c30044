package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/ports"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler.
// eventBus must deliver every event to every subscriber, as the in-memory bus does.
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleRunStream streams the lifecycle and emitted events of one run.
// The stream closes after the run reaches a terminal status.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan ports.Event, 32)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client never sends; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.subscribe(ctx, runID, eventChan); err != nil {
		h.logger.Error("failed to subscribe to events", zap.String("run_id", runID), zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("failed to write message", zap.Error(err))
				return
			}

			if terminal(event.Type) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.Type)),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}

// subscribe forwards events of runID to ch
func (h *Handler) subscribe(ctx context.Context, runID string, ch chan<- ports.Event) error {
	eventHandler := func(ctx context.Context, event ports.Event) error {
		if event.ExecutionID != runID {
			return nil
		}
		select {
		case ch <- event:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("run_id", runID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{ports.TopicRunEvents, ports.TopicEmitted} {
		if err := h.eventBus.Subscribe(ctx, topic, eventHandler); err != nil {
			return err
		}
	}
	return nil
}

func terminal(t ports.EventType) bool {
	switch t {
	case ports.EventTypeRunCompleted, ports.EventTypeRunFaulted, ports.EventTypeRunCancelled:
		return true
	}
	return false
}
