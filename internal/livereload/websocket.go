package livereload

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/larrix/internal/logging"
)

// TransportWebSocket names clients connected over /ws.
const TransportWebSocket = "websocket"

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second
)

// WebSocketHandler upgrades the request and pushes reload messages as JSON
// text frames. Anything the peer sends is discarded.
func WebSocketHandler(hub *Hub, logger logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("websocket")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Extension pages connect from chrome-extension:// and
			// moz-extension:// origins.
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn(r.Context(), err, "WebSocket upgrade failed")
			return
		}

		client, err := hub.Register(TransportWebSocket)
		if err != nil {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer hub.Unregister(client)

		// CloseRead handles control frames and cancels ctx once the peer
		// goes away.
		ctx := conn.CloseRead(r.Context())
		if err := writePump(ctx, conn, client); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				logger.Debug(ctx, "WebSocket closed", "client_id", client.ID, "error", err)
			}
			conn.Close(websocket.StatusInternalError, "")
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, client *Client) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.Done():
			return nil
		case msg := <-client.Messages():
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
