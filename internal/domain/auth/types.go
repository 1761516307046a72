package auth

// Package auth contains domain-level types for authentication, sessions, and roles.
// It is pure and free of framework/adapter concerns.

import (
	"errors"
	"slices"
	"time"
)

// ErrNoSession is returned by session stores when no session is persisted.
var ErrNoSession = errors.New("no session")

// Role represents an authorization role held by an actor.
// Keep string form for easy persistence in the user_roles table.
// Valid values are defined as constants below.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored role name into a Role; unknown names report false.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Identity represents the authenticated principal returned by an SSO provider.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	Subject     string // provider subject (sub claim)
	Email       string
	DisplayName string
	ExpiresAt   time.Time // absolute expiry from IdP token
}

// Actor is the authenticated identity behind a session.
type Actor struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Session is the persisted authentication state of this client.
// Token is the opaque credential minted by the backend.
type Session struct {
	ID        string    `json:"id"`
	Actor     Actor     `json:"actor"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ActorID returns the actor identifier, or "" for a nil session.
func (s *Session) ActorID() string {
	if s == nil {
		return ""
	}
	return s.Actor.ID
}

// Expired reports whether the session is past its expiry at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// RoleSet holds the authorization facts derived from an actor's roles.
type RoleSet struct {
	IsAdmin     bool `json:"is_admin"`
	IsModerator bool `json:"is_moderator"`
}

// DeriveRoleSet computes the RoleSet for a set of role names.
// Admins are always moderators.
func DeriveRoleSet(roles []Role) RoleSet {
	admin := slices.Contains(roles, RoleAdmin)
	return RoleSet{
		IsAdmin:     admin,
		IsModerator: admin || slices.Contains(roles, RoleModerator),
	}
}

// EventKind names a session change notification.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// SessionEvent is delivered to session change listeners.
// Session is nil when the event leaves no active session (sign-out).
type SessionEvent struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session,omitempty"`
	// ActorID identifies the subject of a USER_UPDATED event. It is set even when Session is nil.
	ActorID string `json:"actor_id,omitempty"`
	// Origin identifies the process that produced the event.
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is the immutable view of session state handed to consumers.
type Snapshot struct {
	User        *Actor `json:"user"`
	SessionID   string `json:"session_id,omitempty"`
	Loading     bool   `json:"loading"`
	IsAdmin     bool   `json:"is_admin"`
	IsModerator bool   `json:"is_moderator"`
	// Version increases by one for every applied state change.
	Version uint64 `json:"version"`
}

// Authenticated reports whether the snapshot carries an actor.
func (s Snapshot) Authenticated() bool { return s.User != nil }

// Roles returns the snapshot's RoleSet.
func (s Snapshot) Roles() RoleSet {
	return RoleSet{IsAdmin: s.IsAdmin, IsModerator: s.IsModerator}
}
