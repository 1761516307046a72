package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	authmocks "github.com/puppy-social/puppy/internal/mocks/auth"
	"github.com/puppy-social/puppy/internal/observability/metrics"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/service"
	"github.com/puppy-social/puppy/internal/session"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const testCSRFToken = "test-csrf-token"

// withCSRFCookie attaches the double-submit cookie the router expects on state-changing requests.
func withCSRFCookie(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: testCSRFToken})
	return req
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRenderer(t *testing.T) *TemplateRenderer {
	t.Helper()
	r, err := NewTemplateRenderer(TemplateRendererConfig{
		TemplateFS: os.DirFS(TemplatePathFromTest),
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	return r
}

// testStack wires the real services over in-memory stores.
type testStack struct {
	Users    *authmocks.MemoryUserStore
	Roles    *authmocks.MemoryRoleStore
	Activity *authmocks.MemoryActivityLog
	Auth     *service.AuthService
	Admin    *service.RoleAdminService
	Manager  *session.Manager
	Registry *prometheus.Registry
	Handler  http.Handler
}

type stackOptions struct {
	SSO ports.IdentityProvider
}

func newTestStack(t *testing.T, opts stackOptions) *testStack {
	t.Helper()

	st := &testStack{
		Users:    authmocks.NewMemoryUserStore(),
		Roles:    authmocks.NewMemoryRoleStore(nil),
		Activity: &authmocks.MemoryActivityLog{},
		Registry: prometheus.NewRegistry(),
	}
	st.Users.Roles = st.Roles
	st.Roles.Audit = st.Activity

	tokens, err := service.NewTokenIssuer(service.TokenIssuerOptions{Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)

	st.Auth, err = service.NewAuthService(service.AuthServiceOptions{
		Users:      st.Users,
		Sessions:   authmocks.NewMemorySessionStore(),
		Tokens:     tokens,
		Logger:     discardLogger(),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)

	st.Admin, err = service.NewRoleAdminService(service.RoleAdminServiceOptions{
		Roles:    st.Roles,
		Notifier: st.Auth,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	m := metrics.New(st.Registry)
	st.Manager, err = session.NewManager(session.Options{
		Auth:     st.Auth,
		Roles:    st.Roles,
		Logger:   discardLogger(),
		Observer: m,
	})
	require.NoError(t, err)
	require.NoError(t, st.Manager.Initialize(context.Background()))
	t.Cleanup(func() { _ = st.Manager.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = st.Manager.WaitResolved(ctx)
	require.NoError(t, err)

	st.Handler = NewRouter(RouterServices{
		Auth:        st.Auth,
		Session:     st.Manager,
		Roles:       st.Admin,
		Activity:    st.Activity,
		SSO:         opts.SSO,
		Renderer:    newTestRenderer(t),
		Metrics:     m,
		Gatherer:    st.Registry,
		MetricsPath: "/metrics",
		BaseURL:     "http://puppy.test",
		Logger:      discardLogger(),
	})
	return st
}

// signUp registers and signs in a user through the HTTP surface and returns their actor ID.
func (st *testStack) signUp(t *testing.T, email, username string) string {
	t.Helper()
	rec := st.postForm("/auth/sign-up", url.Values{
		"email":    {email},
		"username": {username},
		"password": {"woof-woof"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	snap := st.Manager.Snapshot()
	require.NotNil(t, snap.User)
	return snap.User.ID
}

// makeAdmin grants the admin role and waits for the manager to observe it.
func (st *testStack) makeAdmin(t *testing.T, actorID string) {
	t.Helper()
	require.NoError(t, st.Roles.ReplaceRoles(context.Background(), actorID, []domainauth.Role{domainauth.RoleAdmin}))
	require.NoError(t, st.Auth.NotifyRolesChanged(context.Background(), actorID))
	require.Eventually(t, func() bool { return st.Manager.Snapshot().IsAdmin }, 2*time.Second, 5*time.Millisecond)
}

func (st *testStack) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	st.Handler.ServeHTTP(rec, req)
	return rec
}

func (st *testStack) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	form.Set(DefaultCSRFCookieName, testCSRFToken)
	req := withCSRFCookie(httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	st.Handler.ServeHTTP(rec, req)
	return rec
}

// fakeSession is a SessionState with a settable snapshot.
type fakeSession struct {
	mu      sync.Mutex
	snap    domainauth.Snapshot
	subs    []chan domainauth.Snapshot
	signOut error
}

func newFakeSession(snap domainauth.Snapshot) *fakeSession {
	return &fakeSession{snap: snap}
}

func (f *fakeSession) Snapshot() domainauth.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Subscribe() (<-chan domainauth.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan domainauth.Snapshot, 8)
	ch <- f.snap
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeSession) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signOut != nil {
		return f.signOut
	}
	f.snap.User = nil
	f.snap.IsAdmin = false
	f.snap.IsModerator = false
	return nil
}

func (f *fakeSession) Set(snap domainauth.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	for _, ch := range f.subs {
		ch <- snap
	}
}
