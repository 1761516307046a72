package httpx

import "time"

// Template paths used for loading templates in tests and production.
const (
	TemplatePathFromRoot = "frontend/templates"       // From project root
	TemplatePathFromTest = "../../frontend/templates" // From internal/http test files
)

// Cookie names used by the SSO flow. The session itself lives in the session store.
const (
	cookieOAuthState        = "oauth_state"
	cookieOAuthNonce        = "oauth_nonce"
	cookiePostLoginRedirect = "post_login_redirect"
)

const (
	oauthCookieMaxAge = 10 * time.Minute

	// activityPageSize is how many audit records the admin view shows.
	activityPageSize = 50

	defaultRetryAfter = time.Second
)
