package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	redisadapter "github.com/puppy-social/puppy/internal/adapters/redis"
	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	mocks "github.com/puppy-social/puppy/internal/mocks/auth"
	"github.com/puppy-social/puppy/internal/testutil"
)

// testClock is a settable clock shared by the service and its token issuer.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder collects session events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []domainauth.SessionEvent
}

func (r *recorder) listen(ev domainauth.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []domainauth.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainauth.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) last() domainauth.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domainauth.SessionEvent{}
	}
	return r.events[len(r.events)-1]
}

type authFixture struct {
	svc      *AuthService
	users    *mocks.MemoryUserStore
	roles    *mocks.MemoryRoleStore
	sessions *mocks.MemorySessionStore
	feed     *mocks.MemoryChangeFeed
	clock    *testClock
	events   *recorder
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{
		users:    mocks.NewMemoryUserStore(),
		roles:    mocks.NewMemoryRoleStore(nil),
		sessions: mocks.NewMemorySessionStore(),
		feed:     mocks.NewMemoryChangeFeed(),
		clock:    &testClock{now: time.Now().UTC().Truncate(time.Second)},
		events:   &recorder{},
	}
	f.users.Roles = f.roles

	tokens, err := NewTokenIssuer(TokenIssuerOptions{Secret: testSecret, TTL: time.Hour, Now: f.clock.Now})
	require.NoError(t, err)

	f.svc, err = NewAuthService(AuthServiceOptions{
		Users:      f.users,
		Sessions:   f.sessions,
		Tokens:     tokens,
		Feed:       f.feed,
		Origin:     "proc-a",
		BcryptCost: bcrypt.MinCost,
		Now:        f.clock.Now,
	})
	require.NoError(t, err)

	t.Cleanup(f.svc.SubscribeToSessionChanges(f.events.listen))
	return f
}

func (f *authFixture) signUp(t *testing.T, email, password, username string) *domainauth.Session {
	t.Helper()
	sess, err := f.svc.SignUp(context.Background(), SignUpInput{Email: email, Password: password, Username: username})
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

func TestNewAuthService_Validation(t *testing.T) {
	tokens, err := NewTokenIssuer(TokenIssuerOptions{Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)

	full := AuthServiceOptions{
		Users:    mocks.NewMemoryUserStore(),
		Sessions: mocks.NewMemorySessionStore(),
		Tokens:   tokens,
	}

	tests := []struct {
		name   string
		mutate func(o *AuthServiceOptions)
	}{
		{"missing users", func(o *AuthServiceOptions) { o.Users = nil }},
		{"missing sessions", func(o *AuthServiceOptions) { o.Sessions = nil }},
		{"missing tokens", func(o *AuthServiceOptions) { o.Tokens = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)
			_, err := NewAuthService(opts)
			require.Error(t, err)
		})
	}

	svc, err := NewAuthService(full)
	require.NoError(t, err)
	assert.NotEmpty(t, svc.Origin())
}

func TestAuthService_SignUp(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	sess, err := f.svc.SignUp(ctx, SignUpInput{
		Email:    "  Rex@Example.com ",
		Password: "hunter22",
		Username: "rex",
	})
	require.NoError(t, err)

	assert.Equal(t, "rex@example.com", sess.Actor.Email)
	assert.Equal(t, "rex", sess.Actor.Username)
	assert.Equal(t, "rex", sess.Actor.DisplayName, "display name defaults to username")
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)))

	roles, err := f.roles.LookupRoles(ctx, sess.Actor.ID)
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleUser}, roles)

	stored, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.ID)

	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn}, f.events.kinds())
	ev := f.events.last()
	assert.Equal(t, "proc-a", ev.Origin)
	require.NotNil(t, ev.Session)
	assert.Equal(t, sess.Actor.ID, ev.Session.Actor.ID)

	published := f.feed.Published()
	require.Len(t, published, 1)
	assert.Equal(t, domainauth.EventSignedIn, published[0].Kind)
}

func TestAuthService_SignUpDefaultRoleFailureLeavesNoUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.roles.Err = errors.New("user_roles insert failed")
	_, err := f.svc.SignUp(ctx, SignUpInput{Email: "rex@example.com", Password: "hunter22", Username: "rex"})
	require.Error(t, err)
	assert.Zero(t, f.users.Len())
	assert.Empty(t, f.events.kinds())

	f.roles.Err = nil
	sess := f.signUp(t, "rex@example.com", "hunter22", "rex")
	roles, err := f.roles.LookupRoles(ctx, sess.Actor.ID)
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleUser}, roles)
}

func TestAuthService_SignUpValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    SignUpInput
		field string
	}{
		{"invalid email", SignUpInput{Email: "not-an-email", Password: "secret1", Username: "rex"}, "email"},
		{"empty email", SignUpInput{Email: " ", Password: "secret1", Username: "rex"}, "email"},
		{"short password", SignUpInput{Email: "rex@example.com", Password: "12345", Username: "rex"}, "password"},
		{"short username", SignUpInput{Email: "rex@example.com", Password: "secret1", Username: " re "}, "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			_, err := f.svc.SignUp(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.field, apperrors.GetField(err))
			assert.Zero(t, f.users.Len())
			assert.Empty(t, f.events.kinds())
		})
	}
}

func TestAuthService_SignUpDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t, "rex@example.com", "secret1", "rex")

	_, err := f.svc.SignUp(context.Background(), SignUpInput{Email: "REX@example.com", Password: "secret2", Username: "rex2"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 1, f.users.Len())
}

func TestAuthService_SignInWithPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	created := f.signUp(t, "rex@example.com", "secret1", "rex")

	sess, err := f.svc.SignInWithPassword(ctx, "Rex@Example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.Actor.ID, sess.Actor.ID)
	assert.NotEqual(t, created.ID, sess.ID, "each sign-in starts a new session")

	_, err = f.svc.SignInWithPassword(ctx, "rex@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, apperrors.IsUnauthorized(err))

	_, err = f.svc.SignInWithPassword(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	f.users.Err = errors.New("db down")
	_, err = f.svc.SignInWithPassword(ctx, "rex@example.com", "secret1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_SignInWithIdentity(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	id := domainauth.Identity{Subject: "sub-1", Email: "Fido@Example.com", DisplayName: "Fido"}
	first, err := f.svc.SignInWithIdentity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fido@example.com", first.Actor.Email)
	assert.Equal(t, "Fido", first.Actor.DisplayName)
	assert.Equal(t, "fido-"+first.Actor.ID[:8], first.Actor.Username)

	roles, err := f.roles.LookupRoles(ctx, first.Actor.ID)
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleUser}, roles)

	second, err := f.svc.SignInWithIdentity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.Actor.ID, second.Actor.ID, "returning identity reuses the actor")
	assert.Equal(t, 1, f.users.Len())

	// SSO-only actors have no password to sign in with.
	_, err = f.svc.SignInWithPassword(ctx, "fido@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.SignInWithIdentity(ctx, domainauth.Identity{Subject: "sub-2"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestAuthService_FetchCurrentSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	sess, err := f.svc.FetchCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	created := f.signUp(t, "rex@example.com", "secret1", "rex")

	sess, err = f.svc.FetchCurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, created.ID, sess.ID)
	assert.Equal(t, created.Actor, sess.Actor)
}

func TestAuthService_FetchCurrentSessionExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.signUp(t, "rex@example.com", "secret1", "rex")

	f.clock.Advance(2 * time.Hour)

	sess, err := f.svc.FetchCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	_, err = f.sessions.Current(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession, "invalid session is cleared")
}

func TestAuthService_FetchCurrentSessionMismatchedToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	created := f.signUp(t, "rex@example.com", "secret1", "rex")

	forged := *created
	forged.Actor.ID = "someone-else"
	require.NoError(t, f.sessions.Save(ctx, forged))

	sess, err := f.svc.FetchCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestAuthService_Refresh(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx)
	require.ErrorIs(t, err, domainauth.ErrNoSession)

	created := f.signUp(t, "rex@example.com", "secret1", "rex")
	f.clock.Advance(30 * time.Minute)

	refreshed, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, refreshed.ID)
	assert.True(t, refreshed.ExpiresAt.After(created.ExpiresAt))
	assert.NotEqual(t, created.Token, refreshed.Token)

	assert.Equal(t, []domainauth.EventKind{domainauth.EventSignedIn, domainauth.EventTokenRefreshed}, f.events.kinds())

	stored, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, refreshed.Token, stored.Token)
}

func TestAuthService_RefreshIfDue(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	did, err := f.svc.RefreshIfDue(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, did, "no session")

	f.signUp(t, "rex@example.com", "secret1", "rex")

	did, err = f.svc.RefreshIfDue(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, did, "expiry is an hour away")

	f.clock.Advance(55 * time.Minute)
	did, err = f.svc.RefreshIfDue(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, domainauth.EventTokenRefreshed, f.events.last().Kind)
}

func TestAuthService_SignOut(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	created := f.signUp(t, "rex@example.com", "secret1", "rex")

	require.NoError(t, f.svc.SignOut(ctx))

	ev := f.events.last()
	assert.Equal(t, domainauth.EventSignedOut, ev.Kind)
	assert.Nil(t, ev.Session)
	assert.Equal(t, created.Actor.ID, ev.ActorID)

	sess, err := f.svc.FetchCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	// Signing out without a session still notifies listeners.
	require.NoError(t, f.svc.SignOut(ctx))
	assert.Equal(t, domainauth.EventSignedOut, f.events.last().Kind)
	assert.Empty(t, f.events.last().ActorID)
}

func TestAuthService_NotifyRolesChanged(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.Error(t, f.svc.NotifyRolesChanged(ctx, ""))

	require.NoError(t, f.svc.NotifyRolesChanged(ctx, "actor-1"))
	ev := f.events.last()
	assert.Equal(t, domainauth.EventUserUpdated, ev.Kind)
	assert.Equal(t, "actor-1", ev.ActorID)
	assert.False(t, ev.At.IsZero())
}

func TestAuthService_Unsubscribe(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	other := &recorder{}
	unsub := f.svc.SubscribeToSessionChanges(other.listen)
	require.NoError(t, f.svc.NotifyRolesChanged(ctx, "actor-1"))
	unsub()
	unsub()
	require.NoError(t, f.svc.NotifyRolesChanged(ctx, "actor-1"))

	assert.Len(t, other.kinds(), 1)
	assert.Len(t, f.events.kinds(), 2)
}

func TestAuthService_ListenRemoteSkipsOwnEvents(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	stop, err := f.svc.ListenRemote(ctx)
	require.NoError(t, err)
	defer stop()

	// Published by this process: delivered locally once, not again through the feed.
	require.NoError(t, f.svc.NotifyRolesChanged(ctx, "actor-1"))
	assert.Len(t, f.events.kinds(), 1)

	// Published by another process.
	require.NoError(t, f.feed.Publish(ctx, domainauth.SessionEvent{
		Kind:    domainauth.EventUserUpdated,
		ActorID: "actor-2",
		Origin:  "proc-b",
	}))
	assert.Len(t, f.events.kinds(), 2)
	assert.Equal(t, "actor-2", f.events.last().ActorID)
}

func TestAuthService_ListenRemoteWithoutFeed(t *testing.T) {
	tokens, err := NewTokenIssuer(TokenIssuerOptions{Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)
	svc, err := NewAuthService(AuthServiceOptions{
		Users:    mocks.NewMemoryUserStore(),
		Sessions: mocks.NewMemorySessionStore(),
		Tokens:   tokens,
	})
	require.NoError(t, err)

	stop, err := svc.ListenRemote(context.Background())
	require.NoError(t, err)
	stop()
}

func TestAuthService_CrossProcessOverRedis(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)
	ctx := context.Background()

	users := mocks.NewMemoryUserStore()
	users.Roles = mocks.NewMemoryRoleStore(nil)
	tokens, err := NewTokenIssuer(TokenIssuerOptions{Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)

	newProcess := func(origin string) *AuthService {
		feed, err := redisadapter.NewChangeFeed(redisadapter.ChangeFeedOptions{Client: client, ClientID: "device-1"})
		require.NoError(t, err)
		svc, err := NewAuthService(AuthServiceOptions{
			Users:      users,
			Sessions:   redisadapter.NewSessionStore(client, "device-1"),
			Tokens:     tokens,
			Feed:       feed,
			Origin:     origin,
			BcryptCost: bcrypt.MinCost,
		})
		require.NoError(t, err)
		return svc
	}

	shell := newProcess("shell")
	admin := newProcess("admin-cli")

	events := &recorder{}
	defer shell.SubscribeToSessionChanges(events.listen)()
	stop, err := shell.ListenRemote(ctx)
	require.NoError(t, err)
	defer stop()

	sess, err := admin.SignUp(ctx, SignUpInput{Email: "rex@example.com", Password: "secret1", Username: "rex"})
	require.NoError(t, err)
	require.NoError(t, admin.NotifyRolesChanged(ctx, sess.Actor.ID))

	require.Eventually(t, func() bool { return len(events.kinds()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []domainauth.EventKind{domainauth.EventSignedIn, domainauth.EventUserUpdated}, events.kinds())

	// Both processes read the same persisted session.
	got, err := shell.FetchCurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)
}
