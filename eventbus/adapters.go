package eventbus

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketAdapter relays one execution's event stream over a WebSocket
// connection. It exists to demonstrate the bus is WebSocket-adaptable per
// spec §4.6; the surrounding HTTP transport is an external collaborator
// (spec §1) and not otherwise part of this engine.
type WebSocketAdapter struct {
	upgrader websocket.Upgrader
}

// NewWebSocketAdapter creates an adapter with permissive defaults; callers
// embedding this in a real transport should tighten CheckOrigin.
func NewWebSocketAdapter() *WebSocketAdapter {
	return &WebSocketAdapter{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the connection and relays events from ch until it closes
// or the client disconnects, whichever happens first.
func (a *WebSocketAdapter) Serve(w http.ResponseWriter, r *http.Request, ch <-chan Event) error {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}

// SSEAdapter relays one execution's event stream as Server-Sent Events.
// Like WebSocketAdapter, this is a thin demonstration adapter: the bus
// itself has no opinion on transport.
type SSEAdapter struct{}

// NewSSEAdapter creates an SSE adapter.
func NewSSEAdapter() *SSEAdapter { return &SSEAdapter{} }

// Serve writes events from ch as "data: <json>\n\n" frames, flushing after
// each one, until ch closes or the request context is cancelled.
func (a *SSEAdapter) Serve(w http.ResponseWriter, r *http.Request, ch <-chan Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errNoFlush
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return nil
		case ev, open := <-ch:
			if !open {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := w.Write(payload); err != nil {
				return err
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

var errNoFlush = sseError("eventbus: response writer does not support flushing")

type sseError string

func (e sseError) Error() string { return string(e) }
