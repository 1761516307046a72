package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/observability/metrics"
	"github.com/puppy-social/puppy/internal/ports"
	"github.com/puppy-social/puppy/internal/routeguard"
)

// ShellHandlers renders the application shell: whichever top-level view the route
// guard selects for the current snapshot and location.
type ShellHandlers struct {
	Session    SessionState
	Roles      RoleAdmin
	Activity   ports.ActivityLog
	Renderer   *TemplateRenderer
	Metrics    *metrics.Metrics
	SSOEnabled bool
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// Tab is a home navigation entry.
type Tab struct {
	Label  string
	Href   string
	Active bool
}

// AdminUser is one row of the admin role table.
type AdminUser struct {
	ID    string
	Roles []domainauth.Role
}

// AdminData is loaded only for the admin view.
type AdminData struct {
	Users    []AdminUser
	Activity []ports.ActivityRecord
}

// PageData is the template context for every shell page.
type PageData struct {
	Title    string
	View     routeguard.View
	Path     string
	Snapshot domainauth.Snapshot
	Decision routeguard.Decision
	Tabs     []Tab
	SSO      bool
	Error    string
	Admin    *AdminData

	// CSRFToken is echoed by every form as csrf_token.
	CSRFToken string
}

var viewTitles = map[routeguard.View]string{
	routeguard.ViewLoading:  "Loading",
	routeguard.ViewFeed:     "Feed",
	routeguard.ViewMovies:   "Movies",
	routeguard.ViewMessages: "Messages",
	routeguard.ViewParty:    "Party",
	routeguard.ViewProfile:  "Profile",
	routeguard.ViewSignIn:   "Sign in",
	routeguard.ViewAdmin:    "Admin",
	routeguard.ViewNotFound: "Not found",
}

var homeTabs = []struct {
	view routeguard.View
	href string
}{
	{routeguard.ViewFeed, "/"},
	{routeguard.ViewMovies, "/?tab=movies"},
	{routeguard.ViewMessages, "/?tab=messages"},
	{routeguard.ViewParty, "/?tab=party"},
	{routeguard.ViewProfile, "/?tab=profile"},
}

func (h *ShellHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Page handles every shell location.
// GET /{path...}.
func (h *ShellHandlers) Page(w http.ResponseWriter, r *http.Request) {
	snap := h.Session.Snapshot()
	target := r.URL.RequestURI()
	d := routeguard.Decide(snap, target)
	if h.Metrics != nil {
		h.Metrics.RouteDecision(d)
	}

	switch d.Outcome {
	case routeguard.OutcomeRedirect:
		http.Redirect(w, r, d.RedirectTo, http.StatusSeeOther)
	case routeguard.OutcomeLoading:
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(h.RetryAfter)))
		h.render(w, r, http.StatusAccepted, pageParams{snap: snap, decision: d})
	default:
		status := http.StatusOK
		if d.View == routeguard.ViewNotFound {
			status = http.StatusNotFound
		}
		h.render(w, r, status, pageParams{snap: snap, decision: d})
	}
}

// pageParams groups the inputs of render.
type pageParams struct {
	snap     domainauth.Snapshot
	decision routeguard.Decision
	errMsg   string
}

// renderSignIn re-renders the sign-in view with a message, as long as the guard still
// permits it. Otherwise the caller is sent wherever the guard points.
func (h *ShellHandlers) renderSignIn(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.renderAt(w, r, routeguard.PathSignIn, status, msg)
}

// renderAt evaluates target against the current snapshot and renders it with msg when
// the result is a render; any other outcome becomes a redirect.
func (h *ShellHandlers) renderAt(w http.ResponseWriter, r *http.Request, target string, status int, msg string) {
	snap := h.Session.Snapshot()
	d := routeguard.Decide(snap, target)
	if d.Outcome != routeguard.OutcomeRender {
		to := d.RedirectTo
		if to == "" {
			to = target
		}
		http.Redirect(w, r, to, http.StatusSeeOther)
		return
	}
	h.render(w, r, status, pageParams{snap: snap, decision: d, errMsg: msg})
}

func (h *ShellHandlers) render(w http.ResponseWriter, r *http.Request, status int, p pageParams) {
	data := PageData{
		Title:    viewTitles[p.decision.View],
		View:     p.decision.View,
		Path:     r.URL.Path,
		Snapshot: p.snap,
		Decision: p.decision,
		SSO:      h.SSOEnabled,
		Error:    p.errMsg,

		CSRFToken: CSRFTokenFromContext(r.Context()),
	}
	if p.snap.Authenticated() {
		data.Tabs = tabsFor(p.decision.View)
	}
	if p.decision.View == routeguard.ViewAdmin {
		admin, err := h.loadAdmin(r.Context())
		if err != nil {
			h.logger().WarnContext(r.Context(), "load admin data failed", "error", err)
			if data.Error == "" {
				data.Error = "Some administration data could not be loaded."
			}
		}
		data.Admin = admin
	}

	if err := h.Renderer.RenderPage(w, status, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *ShellHandlers) loadAdmin(ctx context.Context) (*AdminData, error) {
	admin := &AdminData{}
	if h.Roles != nil {
		assignments, err := h.Roles.ListRoles(ctx)
		if err != nil {
			return admin, err
		}
		ids := make([]string, 0, len(assignments))
		for id := range assignments {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			admin.Users = append(admin.Users, AdminUser{ID: id, Roles: assignments[id]})
		}
	}
	if h.Activity != nil {
		records, err := h.Activity.Recent(ctx, activityPageSize)
		if err != nil {
			return admin, err
		}
		admin.Activity = records
	}
	return admin, nil
}

func tabsFor(current routeguard.View) []Tab {
	tabs := make([]Tab, 0, len(homeTabs))
	for _, t := range homeTabs {
		tabs = append(tabs, Tab{Label: viewTitles[t.view], Href: t.href, Active: t.view == current})
	}
	return tabs
}

func retrySeconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
