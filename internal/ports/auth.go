package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
)

// SessionListener receives session change notifications.
type SessionListener func(event domainauth.SessionEvent)

// AuthService is the authentication backend consumed by the session manager.
type AuthService interface {
	// FetchCurrentSession returns the persisted session, or nil when signed out.
	FetchCurrentSession(ctx context.Context) (*domainauth.Session, error)

	// SubscribeToSessionChanges registers fn for sign-in, sign-out, refresh and user update events.
	// The returned function unregisters it and is safe to call more than once.
	SubscribeToSessionChanges(fn SessionListener) (unsubscribe func())

	// SignOut invalidates the current session.
	SignOut(ctx context.Context) error
}

// RoleLookup reads an actor's roles from the authorization data service.
type RoleLookup interface {
	LookupRoles(ctx context.Context, actorID string) ([]domainauth.Role, error)
}

// BeginInput carries inputs for initiating an SSO flow.
type BeginInput struct {
	RedirectURL string
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	State string
	Nonce string
}

// IdentityProvider initiates and completes an SSO flow against an IdP.
type IdentityProvider interface {
	// Begin starts the login flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the login flow, verifying state and nonce, and returns the authenticated identity.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// SessionStore persists the current session of this client.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Current(ctx context.Context) (domainauth.Session, error)
	Clear(ctx context.Context) error
}

// ChangeFeed carries session events between processes sharing a backend.
type ChangeFeed interface {
	Publish(ctx context.Context, event domainauth.SessionEvent) error
	Subscribe(ctx context.Context, fn SessionListener) (unsubscribe func(), err error)
}

// Credentials is the stored sign-in record of an actor.
type Credentials struct {
	Actor        domainauth.Actor
	PasswordHash []byte
}

// UserStore persists actors and their password credentials.
type UserStore interface {
	// Create stores the actor, its profile and its initial roles in one transaction.
	Create(ctx context.Context, actor domainauth.Actor, passwordHash []byte, roles []domainauth.Role) error
	FindByEmail(ctx context.Context, email string) (Credentials, error)
}

// ErrAdminExists is returned by RoleStore.ApplyChange when OnlyIfNoAdmin is set and an
// administrator is already assigned.
var ErrAdminExists = errors.New("an administrator already exists")

// RoleChange replaces an actor's roles and records the audit entry for it.
type RoleChange struct {
	ActorID string
	Roles   []domainauth.Role
	Audit   ActivityEntry
	// OnlyIfNoAdmin applies the change only while nobody holds the admin role.
	OnlyIfNoAdmin bool
}

// RoleStore replaces and lists role assignments.
type RoleStore interface {
	RoleLookup
	ReplaceRoles(ctx context.Context, actorID string, roles []domainauth.Role) error
	// ApplyChange commits the new roles and the audit entry together, or neither.
	ApplyChange(ctx context.Context, change RoleChange) error
	ListAssignments(ctx context.Context) (map[string][]domainauth.Role, error)
}

// ActivityEntry is an administrative audit record.
type ActivityEntry struct {
	AdminID    string
	Action     string
	TargetType string
	TargetID   string
	Details    map[string]string
}

// ActivityRecord is a stored ActivityEntry.
type ActivityRecord struct {
	ActivityEntry
	ID            string
	AdminUsername string
	CreatedAt     time.Time
}

// ActivityLog records administrative actions.
type ActivityLog interface {
	Record(ctx context.Context, entry ActivityEntry) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]ActivityRecord, error)
}
