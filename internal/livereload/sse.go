package livereload

import (
	"fmt"
	"io"
	"net/http"

	"github.com/conneroisu/larrix/internal/logging"
)

// TransportSSE names clients connected through the event stream.
const TransportSSE = "sse"

// WriteEvent writes msg as one Server-Sent Events frame.
func WriteEvent(w io.Writer, msg Message) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Content)
	return err
}

// SetCORSHeaders allows the extension, served from its own origin, to
// reach the event stream.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

// PreflightHandler answers CORS preflight requests for the event stream.
func PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORSHeaders(w.Header())
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusNoContent)
	}
}

// SSEHandler registers each request as a client and streams reload events
// to it until the request or the client ends.
func SSEHandler(hub *Hub, logger logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("sse")

	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		client, err := hub.Register(TransportSSE)
		if err != nil {
			http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
			return
		}
		defer hub.Unregister(client)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case msg := <-client.Messages():
				if err := WriteEvent(w, msg); err != nil {
					logger.Debug(ctx, "Event stream write failed", "client_id", client.ID, "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}
