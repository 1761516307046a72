package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockIdentityProvider_Begin_Defaults(t *testing.T) {
	provider := NewMockIdentityProvider()
	ctx := context.Background()

	input := ports.BeginInput{RedirectURL: "http://localhost:8080/auth/callback"}
	authURL, state, nonce, err := provider.Begin(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, "https://mock-idp/auth", authURL)
	assert.Equal(t, "state-1", state)
	assert.Equal(t, "nonce-1", nonce)

	// Second call should increment counters
	_, state2, nonce2, err2 := provider.Begin(ctx, input)
	require.NoError(t, err2)
	assert.Equal(t, "state-2", state2)
	assert.Equal(t, "nonce-2", nonce2)
}

func TestMockIdentityProvider_Exchange_Default(t *testing.T) {
	provider := NewMockIdentityProvider()

	id, err := provider.Exchange(context.Background(), ports.ExchangeInput{Code: "c"})
	require.NoError(t, err)
	assert.Equal(t, "mock.user@example.com", id.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, time.Minute)
}

func TestFakeAuthService_EmitAndUnsubscribe(t *testing.T) {
	svc := NewFakeAuthService(nil)

	var got []domainauth.EventKind
	unsub := svc.SubscribeToSessionChanges(func(ev domainauth.SessionEvent) {
		got = append(got, ev.Kind)
	})
	assert.Equal(t, 1, svc.ListenerCount())

	svc.SignIn(domainauth.Session{ID: "s1", Actor: domainauth.Actor{ID: "a1"}})
	require.NoError(t, svc.SignOut(context.Background()))

	unsub()
	unsub()
	svc.Emit(domainauth.SessionEvent{Kind: domainauth.EventUserUpdated})

	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn, domainauth.EventSignedOut}, got)
	assert.Equal(t, 1, svc.UnsubscribeCalls())
	assert.Zero(t, svc.ListenerCount())
}

func TestFakeAuthService_HoldFetch(t *testing.T) {
	svc := NewFakeAuthService(&domainauth.Session{ID: "s1", Actor: domainauth.Actor{ID: "a1"}})
	release := svc.HoldFetch()

	done := make(chan *domainauth.Session, 1)
	go func() {
		sess, _ := svc.FetchCurrentSession(context.Background())
		done <- sess
	}()

	<-svc.FetchStarted()
	select {
	case <-done:
		t.Fatal("fetch returned while held")
	case <-time.After(20 * time.Millisecond):
	}

	svc.SetSession(&domainauth.Session{ID: "s2", Actor: domainauth.Actor{ID: "a2"}})
	release()

	sess := <-done
	require.NotNil(t, sess)
	assert.Equal(t, "a2", sess.Actor.ID)
}

func TestFakeAuthService_HoldFetchCanceled(t *testing.T) {
	svc := NewFakeAuthService(nil)
	svc.HoldFetch()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.FetchCurrentSession(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStubRoleLookup(t *testing.T) {
	lookup := NewStubRoleLookup(map[string][]domainauth.Role{"a1": {domainauth.RoleAdmin}})
	ctx := context.Background()

	roles, err := lookup.LookupRoles(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleAdmin}, roles)

	roles, err = lookup.LookupRoles(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, roles)

	lookup.SetError(errors.New("boom"))
	_, err = lookup.LookupRoles(ctx, "a1")
	require.Error(t, err)

	assert.Equal(t, []string{"a1", "unknown", "a1"}, lookup.Calls())
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	_, err := store.Current(ctx)
	require.ErrorIs(t, err, domainauth.ErrNoSession)

	require.Error(t, store.Save(ctx, domainauth.Session{}))
	require.NoError(t, store.Save(ctx, domainauth.Session{ID: "s1"}))

	sess, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Current(ctx)
	require.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestMemoryChangeFeed(t *testing.T) {
	feed := NewMemoryChangeFeed()
	ctx := context.Background()

	var n int
	unsub, err := feed.Subscribe(ctx, func(domainauth.SessionEvent) { n++ })
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, domainauth.SessionEvent{Kind: domainauth.EventSignedIn}))
	unsub()
	require.NoError(t, feed.Publish(ctx, domainauth.SessionEvent{Kind: domainauth.EventSignedOut}))

	assert.Equal(t, 1, n)
	assert.Len(t, feed.Published(), 2)
}
