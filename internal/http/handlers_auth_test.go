package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	authmocks "github.com/puppy-social/puppy/internal/mocks/auth"
	"github.com/puppy-social/puppy/internal/ports"
)

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuth_SSOLoginSetsFlowCookies(t *testing.T) {
	idp := authmocks.NewMockIdentityProvider()
	var gotRedirect string
	idp.BeginFunc = func(_ context.Context, in ports.BeginInput) (string, string, string, error) {
		gotRedirect = in.RedirectURL
		return "https://idp.test/authorize", "state-1", "nonce-1", nil
	}
	st := newTestStack(t, stackOptions{SSO: idp})

	rec := st.get("/auth/sso?redirect_uri=/?tab=party")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://idp.test/authorize", rec.Header().Get("Location"))
	assert.Equal(t, "http://puppy.test/auth/callback", gotRedirect)

	cookies := rec.Result().Cookies()
	require.NotNil(t, cookieByName(cookies, cookieOAuthState))
	assert.Equal(t, "state-1", cookieByName(cookies, cookieOAuthState).Value)
	assert.Equal(t, "nonce-1", cookieByName(cookies, cookieOAuthNonce).Value)
	assert.Equal(t, "/?tab=party", cookieByName(cookies, cookiePostLoginRedirect).Value)
	assert.True(t, cookieByName(cookies, cookieOAuthState).HttpOnly)

	assert.Contains(t, st.get("/auth").Body.String(), `href="/auth/sso"`)
}

func TestAuth_SSOLoginRejectsOffsiteRedirect(t *testing.T) {
	st := newTestStack(t, stackOptions{SSO: authmocks.NewMockIdentityProvider()})

	rec := st.get("/auth/sso?redirect_uri=https://evil.example/")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", cookieByName(rec.Result().Cookies(), cookiePostLoginRedirect).Value)
}

func TestAuth_SSOCallbackSignsIn(t *testing.T) {
	idp := authmocks.NewMockIdentityProvider()
	var exchanged ports.ExchangeInput
	idp.ExchangeFunc = func(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
		exchanged = in
		return domainauth.Identity{Subject: "s-1", Email: "Sso.Pup@example.com", DisplayName: "Sso Pup"}, nil
	}
	st := newTestStack(t, stackOptions{SSO: idp})

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=state-1", nil)
	req.AddCookie(&http.Cookie{Name: cookieOAuthState, Value: "state-1"})
	req.AddCookie(&http.Cookie{Name: cookieOAuthNonce, Value: "nonce-1"})
	req.AddCookie(&http.Cookie{Name: cookiePostLoginRedirect, Value: "/?tab=messages"})
	rec := httptest.NewRecorder()
	st.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/?tab=messages", rec.Header().Get("Location"))
	assert.Equal(t, ports.ExchangeInput{Code: "abc", State: "state-1", Nonce: "nonce-1"}, exchanged)

	snap := st.Manager.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, "sso.pup@example.com", snap.User.Email)
	assert.Equal(t, "Sso Pup", snap.User.DisplayName)

	for _, name := range []string{cookieOAuthState, cookieOAuthNonce, cookiePostLoginRedirect} {
		c := cookieByName(rec.Result().Cookies(), name)
		require.NotNil(t, c, name)
		assert.Equal(t, -1, c.MaxAge, name)
	}
}

func TestAuth_SSOCallbackRejects(t *testing.T) {
	idp := authmocks.NewMockIdentityProvider()
	idp.ExchangeFunc = func(context.Context, ports.ExchangeInput) (domainauth.Identity, error) {
		return domainauth.Identity{}, errors.New("bad code")
	}
	st := newTestStack(t, stackOptions{SSO: idp})

	tests := []struct {
		name     string
		target   string
		state    string
		nonce    string
		wantCode int
		wantText string
	}{
		{name: "provider error", target: "/auth/callback?error=access_denied", wantCode: http.StatusUnauthorized, wantText: "cancelled or denied"},
		{name: "missing code", target: "/auth/callback?state=s", state: "s", nonce: "n", wantCode: http.StatusBadRequest, wantText: "incomplete"},
		{name: "state mismatch", target: "/auth/callback?code=c&state=s", state: "other", nonce: "n", wantCode: http.StatusBadRequest, wantText: "expired"},
		{name: "missing nonce", target: "/auth/callback?code=c&state=s", state: "s", wantCode: http.StatusBadRequest, wantText: "expired"},
		{name: "exchange fails", target: "/auth/callback?code=c&state=s", state: "s", nonce: "n", wantCode: http.StatusUnauthorized, wantText: "Single sign-on failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.state != "" {
				req.AddCookie(&http.Cookie{Name: cookieOAuthState, Value: tt.state})
			}
			if tt.nonce != "" {
				req.AddCookie(&http.Cookie{Name: cookieOAuthNonce, Value: tt.nonce})
			}
			rec := httptest.NewRecorder()
			st.Handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantText)
			assert.Nil(t, st.Manager.Snapshot().User)
		})
	}
}

func TestAuth_SSORoutesAbsentWithoutProvider(t *testing.T) {
	st := newTestStack(t, stackOptions{})

	rec := st.get("/auth/sso")
	assert.Equal(t, http.StatusNotFound, rec.Code, "falls through to the shell's not-found view")
}

func TestAuth_Status(t *testing.T) {
	st := newTestStack(t, stackOptions{})

	var msg statusMessage
	rec := st.get("/auth/status?path=/admin")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Nil(t, msg.Snapshot.User)
	assert.Equal(t, "/auth", msg.Redirect)

	id := st.signUp(t, "rex@example.com", "rex")
	rec = st.get("/auth/status")
	msg = statusMessage{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.Snapshot.User)
	assert.Equal(t, id, msg.Snapshot.User.ID)
	assert.Nil(t, msg.Decision)
}

func TestAuth_SignOutJSON(t *testing.T) {
	sess := newFakeSession(domainauth.Snapshot{User: &domainauth.Actor{ID: "a1"}})
	h := &AuthHandlers{Session: sess, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.SignOut(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","redirect_to":"/auth"}`, rec.Body.String())
	assert.Nil(t, sess.Snapshot().User)

	sess.signOut = errors.New("store down")
	rec = httptest.NewRecorder()
	h.SignOut(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSafeRedirectPath(t *testing.T) {
	tests := map[string]string{
		"":                      "/",
		"/":                     "/",
		"/?tab=movies":          "/?tab=movies",
		"/admin":                "/admin",
		"https://evil.example/": "/",
		"//evil.example/":       "/",
		`/\evil.example`:        "/",
		"relative":              "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeRedirectPath(in), in)
	}
}
