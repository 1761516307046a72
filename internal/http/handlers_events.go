// Package httpx serves the Puppy application shell: guarded pages, sign-in flows,
// administration and a live snapshot stream.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/routeguard"
)

const (
	eventsWriteTimeout = 5 * time.Second
	eventsPingInterval = 30 * time.Second
)

// EventHandlers streams snapshot changes to open pages.
type EventHandlers struct {
	Session SessionState
	// OriginPatterns are extra hosts allowed to open the stream besides the request host.
	OriginPatterns []string
	Logger         *slog.Logger
}

// statusMessage is what /auth/status returns and /events pushes.
type statusMessage struct {
	Snapshot domainauth.Snapshot  `json:"snapshot"`
	Decision *routeguard.Decision `json:"decision,omitempty"`
	// Redirect is set when the guard no longer renders the page at path.
	Redirect string `json:"redirect,omitempty"`
}

// newStatusMessage evaluates path, when given, against snap.
func newStatusMessage(snap domainauth.Snapshot, path string) statusMessage {
	msg := statusMessage{Snapshot: snap}
	if path == "" {
		return msg
	}
	d := routeguard.Decide(snap, path)
	msg.Decision = &d
	if d.Outcome == routeguard.OutcomeRedirect {
		msg.Redirect = d.RedirectTo
	}
	return msg
}

func (h *EventHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream upgrades to a websocket and pushes the current snapshot, then every change,
// together with the guard decision for the page the client is showing.
// GET /events?path=/current.
func (h *EventHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	path := safeRedirectPath(r.URL.Query().Get("path"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		// Accept has already written the error response.
		h.logger().DebugContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends data; CloseRead handles control frames and reports disconnects.
	ctx := conn.CloseRead(r.Context())

	updates, unsubscribe := h.Session.Subscribe()
	defer unsubscribe()

	err = h.pump(ctx, conn, updates, path)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "session closed")
	case errors.Is(err, context.Canceled),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		h.logger().WarnContext(r.Context(), "event stream ended", "error", err)
	}
}

// pump writes one message per snapshot until ctx ends or updates is closed.
func (h *EventHandlers) pump(
	ctx context.Context,
	conn *websocket.Conn,
	updates <-chan domainauth.Snapshot,
	path string,
) error {
	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeWithTimeout(ctx, conn, newStatusMessage(snap, path)); err != nil {
				return err
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
