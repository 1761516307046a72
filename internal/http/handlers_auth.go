package httpx

import (
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/http/validation"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/service"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc     Authenticator
	Session SessionState
	// Optional: SSO provider for /auth/sso and /auth/callback.
	SSO          ports.IdentityProvider
	Shell        *ShellHandlers
	BaseURL      string
	CookieDomain string
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// SignIn handles the password sign-in form.
// POST /auth/sign-in.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	fv := validation.New().
		Validate("email", email, validation.Email("Email")).
		Validate("password", password, validation.Required("Password", 128))
	if !fv.Valid() {
		h.Shell.renderSignIn(w, r, http.StatusBadRequest, fv.First())
		return
	}

	if _, err := h.Svc.SignInWithPassword(r.Context(), email, password); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SignUp handles the registration form.
// POST /auth/sign-up.
func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	in := service.SignUpInput{
		Email:       r.PostFormValue("email"),
		Password:    r.PostFormValue("password"),
		Username:    r.PostFormValue("username"),
		DisplayName: r.PostFormValue("display_name"),
	}

	fv := validation.New().
		Validate("email", in.Email, validation.Email("Email")).
		Validate("username", in.Username,
			validation.RequiredRange("Username", 3, 32),
			validation.Pattern("Username", usernamePattern)).
		Validate("display_name", in.DisplayName, validation.Optional("Display name", 64)).
		Validate("password", in.Password, validation.RequiredRange("Password", 6, 128))
	if !fv.Valid() {
		h.Shell.renderSignIn(w, r, http.StatusBadRequest, fv.First())
		return
	}

	if _, err := h.Svc.SignUp(r.Context(), in); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// fail reports a sign-in or sign-up error on the sign-in view.
func (h *AuthHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "sign in failed", "error", err)
	}
	msg := errorMessage(err)
	if apperrors.IsConflict(err) {
		msg = "An account with that email or username already exists."
	}
	h.Shell.renderSignIn(w, r, status, msg)
}

// SignOut ends the current session.
// POST /auth/sign-out.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.SignOut(r.Context()); err != nil {
		h.logger().WarnContext(r.Context(), "sign out failed", "error", err)
		if !isBrowserRequest(r) {
			WriteAppError(w, err)
			return
		}
	}

	if !isBrowserRequest(r) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "success",
			"redirect_to": "/auth",
		})
		return
	}
	http.Redirect(w, r, "/auth", http.StatusSeeOther)
}

// Status returns the current session snapshot and what the guard decides for ?path=.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.Session.Snapshot()
	WriteJSON(w, http.StatusOK, newStatusMessage(snap, r.URL.Query().Get("path")))
}

// Login starts the SSO flow.
// GET /auth/sso?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"))

	authURL, state, nonce, err := h.SSO.Begin(r.Context(), ports.BeginInput{RedirectURL: h.callbackURL()})
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin sso failed", "error", err)
		h.Shell.renderSignIn(w, r, http.StatusBadGateway, "Single sign-on is unavailable right now.")
		return
	}

	h.setOAuthCookies(w, r, oauthCookieParams{State: state, Nonce: nonce, RedirectURI: redirectURI})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the SSO flow.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.clearOAuthCookies(w, r)
		h.logger().WarnContext(r.Context(), "identity provider returned an error",
			"error", providerErr, "description", q.Get("error_description"))
		h.Shell.renderSignIn(w, r, http.StatusUnauthorized, "Sign-in was cancelled or denied.")
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		h.Shell.renderSignIn(w, r, http.StatusBadRequest, "The sign-in response was incomplete.")
		return
	}

	stateCookie, err := r.Cookie(cookieOAuthState)
	if err != nil || stateCookie.Value != state {
		h.Shell.renderSignIn(w, r, http.StatusBadRequest, "The sign-in request expired. Please try again.")
		return
	}
	nonceCookie, err := r.Cookie(cookieOAuthNonce)
	if err != nil {
		h.Shell.renderSignIn(w, r, http.StatusBadRequest, "The sign-in request expired. Please try again.")
		return
	}

	identity, err := h.SSO.Exchange(r.Context(), ports.ExchangeInput{
		Code:  code,
		State: state,
		Nonce: nonceCookie.Value,
	})
	if err != nil {
		h.clearOAuthCookies(w, r)
		h.logger().WarnContext(r.Context(), "sso exchange failed", "error", err)
		h.Shell.renderSignIn(w, r, http.StatusUnauthorized, "Single sign-on failed. Please try again.")
		return
	}

	if _, err := h.Svc.SignInWithIdentity(r.Context(), identity); err != nil {
		h.clearOAuthCookies(w, r)
		h.fail(w, r, err)
		return
	}

	h.clearCookie(w, r, cookieOAuthState)
	h.clearCookie(w, r, cookieOAuthNonce)
	http.Redirect(w, r, h.getPostLoginRedirect(w, r), http.StatusSeeOther)
}

// callbackURL is where the identity provider sends the browser back to.
func (h *AuthHandlers) callbackURL() string {
	base := strings.TrimRight(h.BaseURL, "/")
	if base == "" {
		return "/auth/callback"
	}
	return base + "/auth/callback"
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// clearCookie clears a cookie by setting it to expire immediately.
// It mirrors key attributes (Secure, Path, Domain, SameSite) used when setting cookies
// to maximize compatibility across browsers during deletion.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearOAuthCookies(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, r, cookieOAuthState)
	h.clearCookie(w, r, cookieOAuthNonce)
	h.clearCookie(w, r, cookiePostLoginRedirect)
}

// oauthCookieParams groups values needed to set OAuth cookies.
type oauthCookieParams struct {
	State       string
	Nonce       string
	RedirectURI string
}

// setOAuthCookies stores OAuth state, nonce, and the post-login redirect in short-lived cookies.
func (h *AuthHandlers) setOAuthCookies(w http.ResponseWriter, r *http.Request, p oauthCookieParams) {
	secure := isSecureRequest(r)
	for _, c := range []struct{ name, value string }{
		{cookieOAuthState, p.State},
		{cookieOAuthNonce, p.Nonce},
		{cookiePostLoginRedirect, p.RedirectURI},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    c.value,
			Path:     "/",
			Domain:   h.CookieDomain,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(oauthCookieMaxAge / time.Second),
		})
	}
}

// getPostLoginRedirect returns the post-login redirect URL and clears the cookie.
func (h *AuthHandlers) getPostLoginRedirect(w http.ResponseWriter, r *http.Request) string {
	redirectURI := "/"
	if redirectCookie, err := r.Cookie(cookiePostLoginRedirect); err == nil {
		redirectURI = safeRedirectPath(redirectCookie.Value)
		h.clearCookie(w, r, cookiePostLoginRedirect)
	}
	return redirectURI
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") ||
		strings.HasPrefix(candidate, "//") || strings.Contains(candidate, `\`) {
		return "/"
	}
	return candidate
}
