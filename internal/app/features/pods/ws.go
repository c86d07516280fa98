// internal/app/features/pods/ws.go
package pods

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/system/htmlsanitize"
	"github.com/quietcove/podhub/internal/domain/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	outboundBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The app is consumed by native clients with no Origin header and by
	// the local dev frontend; origin enforcement happens upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Stream handles GET /pods/{podID}/stream. It upgrades to a WebSocket,
// replays the pod's transcript, then pushes every new message as it lands.
// Inbound frames ({"text": ...}) are posted to the pod as the caller.
//
// Closing the socket cancels the underlying subscription, so a client that
// leaves a pod just drops the connection.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	podID := chi.URLParam(r, "podID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The request context is cancelled as soon as this handler returns,
	// but the pumps outlive the handler; detach so the subscription runs
	// until the socket closes.
	ctx, stop := context.WithCancel(context.WithoutCancel(r.Context()))
	outbound := make(chan models.Message, outboundBuffer)

	cancelSub, err := h.Engine.SubscribeMessages(ctx, podID, func(m models.Message) {
		select {
		case outbound <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		h.Log.Error("subscription open failed",
			zap.String("pod_id", podID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		conn.Close()
		stop()
		return
	}

	go h.writePump(ctx, conn, outbound, podID)
	go h.readPump(ctx, conn, podID, userID, func() {
		stop()
		cancelSub()
	})
}

// readPump consumes inbound frames until the connection dies, posting each
// as a user message. It owns connection teardown.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, podID, userID string, teardown func()) {
	defer func() {
		teardown()
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Log.Warn("websocket read failed",
					zap.String("pod_id", podID), zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.Log.Debug("dropping malformed frame", zap.String("pod_id", podID))
			continue
		}

		if _, err := h.Engine.SendMessage(ctx, podID, userID, htmlsanitize.MessageText(frame.Text)); err != nil {
			h.Log.Warn("websocket send failed",
				zap.String("pod_id", podID), zap.Error(err))
		}
	}
}

// writePump pushes subscribed messages and keepalive pings to the socket.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, outbound <-chan models.Message, podID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.Log.Debug("websocket write failed",
					zap.String("pod_id", podID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
