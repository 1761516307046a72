// Package routeguard maps session state and a requested location to the top-level view.
//
// Decide is pure: it holds no state and performs no I/O, so every call reflects the
// snapshot it is given. Privilege changes take effect on the next evaluation.
package routeguard

import (
	"net/url"
	"path"
	"strings"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
)

// State is the guard state derived from a snapshot.
type State string

const (
	StateResolving             State = "RESOLVING"
	StateUnauthenticated       State = "UNAUTHENTICATED"
	StateAuthenticatedStandard State = "AUTHENTICATED_STANDARD"
	StateAuthenticatedAdmin    State = "AUTHENTICATED_ADMIN"
)

// Outcome says what the caller should do with a Decision.
type Outcome string

const (
	OutcomeRender   Outcome = "render"
	OutcomeRedirect Outcome = "redirect"
	OutcomeLoading  Outcome = "loading"
)

// View identifies a top-level renderable unit.
type View string

const (
	ViewLoading  View = "loading"
	ViewFeed     View = "feed"
	ViewMovies   View = "movies"
	ViewMessages View = "messages"
	ViewParty    View = "party"
	ViewProfile  View = "profile"
	ViewSignIn   View = "sign-in"
	ViewAdmin    View = "admin"
	ViewNotFound View = "not-found"
)

// Well-known paths.
const (
	PathHome   = "/"
	PathSignIn = "/auth"
	PathAdmin  = "/admin"
)

// TabParam selects the home sub-view, e.g. "/?tab=movies".
const TabParam = "tab"

var homeTabs = map[string]View{
	"feed":     ViewFeed,
	"movies":   ViewMovies,
	"messages": ViewMessages,
	"party":    ViewParty,
	"profile":  ViewProfile,
}

// Decision is the result of evaluating a request.
type Decision struct {
	State      State   `json:"state"`
	Outcome    Outcome `json:"outcome"`
	View       View    `json:"view"`
	RedirectTo string  `json:"redirect_to,omitempty"`
}

// Permits reports whether the decision renders view.
func (d Decision) Permits(view View) bool {
	return d.Outcome == OutcomeRender && d.View == view
}

// StateOf derives the guard state from a snapshot.
func StateOf(snap domainauth.Snapshot) State {
	switch {
	case snap.Loading:
		return StateResolving
	case !snap.Authenticated():
		return StateUnauthenticated
	case snap.IsAdmin:
		return StateAuthenticatedAdmin
	default:
		return StateAuthenticatedStandard
	}
}

// Decide selects the view for target, a path with an optional query string.
func Decide(snap domainauth.Snapshot, target string) Decision {
	state := StateOf(snap)
	if state == StateResolving {
		return Decision{State: state, Outcome: OutcomeLoading, View: ViewLoading}
	}

	route, query := split(target)
	switch route {
	case PathSignIn:
		if state == StateUnauthenticated {
			return render(state, ViewSignIn)
		}
		return redirect(state, PathHome)

	case PathAdmin:
		switch state {
		case StateUnauthenticated:
			return redirect(state, PathSignIn)
		case StateAuthenticatedStandard:
			return redirect(state, PathHome)
		}
		return render(state, ViewAdmin)

	case PathHome:
		if state == StateUnauthenticated {
			return redirect(state, PathSignIn)
		}
		return render(state, homeTab(query))

	default:
		return render(state, ViewNotFound)
	}
}

func render(state State, view View) Decision {
	return Decision{State: state, Outcome: OutcomeRender, View: view}
}

func redirect(state State, to string) Decision {
	return Decision{State: state, Outcome: OutcomeRedirect, RedirectTo: to}
}

// split returns the normalized route and query of target. Matching ignores case and
// trailing slashes; anything unparseable is treated as an unknown route.
func split(target string) (string, url.Values) {
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "", nil
	}

	p := u.Path
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	p = strings.ToLower(path.Clean(p))
	return p, u.Query()
}

func homeTab(q url.Values) View {
	if v, ok := homeTabs[strings.ToLower(q.Get(TabParam))]; ok {
		return v
	}
	return ViewFeed
}
