package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
)

func postJSON(h http.Handler, target, body string) *httptest.ResponseRecorder {
	req := withCSRFCookie(httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	req.Header.Set(DefaultCSRFHeaderName, testCSRFToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_SetRoleForm(t *testing.T) {
	st := newTestStack(t, stackOptions{})
	adminID := st.signUp(t, "boss@example.com", "boss")
	st.makeAdmin(t, adminID)

	rec := st.postForm("/admin/roles", url.Values{"user_id": {"pup-1"}, "role": {"Moderator"}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/admin", rec.Header().Get("Location"))

	roles, err := st.Roles.LookupRoles(t.Context(), "pup-1")
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleModerator}, roles)

	entries := st.Activity.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, adminID, entries[0].AdminID)
	assert.Equal(t, "pup-1", entries[0].TargetID)
}

func TestAdmin_SetRoleJSON(t *testing.T) {
	st := newTestStack(t, stackOptions{})
	adminID := st.signUp(t, "boss@example.com", "boss")
	st.makeAdmin(t, adminID)

	rec := postJSON(st.Handler, "/admin/roles", `{"user_id":"pup-1","role":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = postJSON(st.Handler, "/admin/roles", `{"user_id":"pup-1","role":"owner"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation", body["error"])
	assert.Equal(t, "Role must be one of: user, moderator, admin", body["message"])

	rec = postJSON(st.Handler, "/admin/roles", `{"user_id":"pup-1","role":"admin","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_SetRoleFormValidationRendersAdminView(t *testing.T) {
	st := newTestStack(t, stackOptions{})
	adminID := st.signUp(t, "boss@example.com", "boss")
	st.makeAdmin(t, adminID)

	rec := st.postForm("/admin/roles", url.Values{"role": {"admin"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-view="admin"`)
	assert.Contains(t, rec.Body.String(), "User is required.")
	assert.Empty(t, st.Activity.Entries())
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, ActorIDFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	actor := &domainauth.Actor{ID: "a1"}

	tests := []struct {
		name     string
		snap     domainauth.Snapshot
		accept   string
		wantCode int
		wantLoc  string
	}{
		{name: "loading", snap: domainauth.Snapshot{Loading: true}, accept: "application/json", wantCode: http.StatusServiceUnavailable},
		{name: "signed out api", accept: "application/json", wantCode: http.StatusUnauthorized},
		{name: "signed out browser", accept: "text/html", wantCode: http.StatusSeeOther, wantLoc: "/auth"},
		{name: "standard api", snap: domainauth.Snapshot{User: actor}, accept: "application/json", wantCode: http.StatusForbidden},
		{name: "standard browser", snap: domainauth.Snapshot{User: actor}, accept: "text/html", wantCode: http.StatusSeeOther, wantLoc: "/"},
		{name: "admin", snap: domainauth.Snapshot{User: actor, IsAdmin: true, IsModerator: true}, accept: "application/json", wantCode: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAdmin(newFakeSession(tt.snap))(next)
			req := httptest.NewRequest(http.MethodPost, "/admin/roles", nil)
			req.Header.Set("Accept", tt.accept)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, rec.Header().Get("Location"))
			}
		})
	}
}

func TestRequireAdmin_RevokedRoleTakesEffectImmediately(t *testing.T) {
	st := newTestStack(t, stackOptions{})
	adminID := st.signUp(t, "boss@example.com", "boss")
	st.makeAdmin(t, adminID)

	require.NoError(t, st.Roles.ReplaceRoles(t.Context(), adminID, []domainauth.Role{domainauth.RoleUser}))
	require.NoError(t, st.Auth.NotifyRolesChanged(t.Context(), adminID))
	require.Eventually(t, func() bool { return !st.Manager.Snapshot().IsAdmin }, time.Second*2, time.Millisecond*5)

	rec := postJSON(st.Handler, "/admin/roles", `{"user_id":"pup-1","role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
