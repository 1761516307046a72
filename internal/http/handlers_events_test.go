package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/routeguard"
)

func dialEvents(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?path=" + path
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) statusMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var msg statusMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestEvents_PushesDecisionsAsSnapshotsChange(t *testing.T) {
	sess := newFakeSession(domainauth.Snapshot{Loading: true})
	h := &EventHandlers{Session: sess, Logger: discardLogger()}
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	t.Cleanup(srv.Close)

	conn := dialEvents(t, srv, "/admin")

	msg := readStatus(t, conn)
	assert.True(t, msg.Snapshot.Loading)
	require.NotNil(t, msg.Decision)
	assert.Equal(t, routeguard.OutcomeLoading, msg.Decision.Outcome)
	assert.Empty(t, msg.Redirect)

	actor := &domainauth.Actor{ID: "a1", Email: "boss@example.com"}
	sess.Set(domainauth.Snapshot{User: actor, IsAdmin: true, IsModerator: true, Version: 2})
	msg = readStatus(t, conn)
	require.NotNil(t, msg.Decision)
	assert.True(t, msg.Decision.Permits(routeguard.ViewAdmin))
	assert.Empty(t, msg.Redirect)

	// Demotion while the admin view is open sends the client home.
	sess.Set(domainauth.Snapshot{User: actor, Version: 3})
	msg = readStatus(t, conn)
	assert.Equal(t, "/", msg.Redirect)
	assert.Equal(t, uint64(3), msg.Snapshot.Version)
}

func TestEvents_ThroughRouter(t *testing.T) {
	st := newTestStack(t, stackOptions{})
	srv := httptest.NewServer(st.Handler)
	t.Cleanup(srv.Close)

	conn := dialEvents(t, srv, "/")
	msg := readStatus(t, conn)
	assert.Nil(t, msg.Snapshot.User)
	assert.Equal(t, "/auth", msg.Redirect)

	st.signUp(t, "rex@example.com", "rex")

	// Sign-in and the role lookup each publish a snapshot; read until the feed is permitted.
	for i := 0; i < 5; i++ {
		msg = readStatus(t, conn)
		if msg.Decision != nil && msg.Decision.Permits(routeguard.ViewFeed) {
			break
		}
	}
	require.NotNil(t, msg.Snapshot.User)
	assert.True(t, msg.Decision.Permits(routeguard.ViewFeed))
	assert.Empty(t, msg.Redirect)
}

func TestNewStatusMessage(t *testing.T) {
	msg := newStatusMessage(domainauth.Snapshot{}, "")
	assert.Nil(t, msg.Decision)

	msg = newStatusMessage(domainauth.Snapshot{}, "/?tab=party")
	require.NotNil(t, msg.Decision)
	assert.Equal(t, routeguard.OutcomeRedirect, msg.Decision.Outcome)
	assert.Equal(t, "/auth", msg.Redirect)
}
