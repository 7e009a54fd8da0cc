package feed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/itorigin/origin-chat/internal/identity"
)

const writeTimeout = 10 * time.Second

// WebSocketHandler streams broker events to an admin operator.
type WebSocketHandler struct {
	broker         *Broker
	originPatterns []string
}

// NewWebSocketHandler creates a feed handler. originPatterns are host
// patterns accepted for cross-origin upgrades.
func NewWebSocketHandler(broker *Broker, originPatterns []string) *WebSocketHandler {
	return &WebSocketHandler{broker: broker, originPatterns: originPatterns}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept feed WebSocket", "error", err, "ip", identity.IPFromRequest(r))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close feed websocket", "error", closeErr)
		}
	}()

	events, cancel := h.broker.Subscribe()
	defer cancel()

	// Operators only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	slog.Info("Feed subscriber connected", "ip", identity.IPFromRequest(r), "subscribers", h.broker.Count())

	h.pump(ctx, ws, events)
	slog.Info("Feed subscriber disconnected", "ip", identity.IPFromRequest(r))
}

func (h *WebSocketHandler) pump(ctx context.Context, ws *websocket.Conn, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, ws, e)
			cancel()
			if err != nil {
				slog.Debug("Failed to write feed event", "error", err, "type", e.Type)
				return
			}
		}
	}
}
