package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/ports"
)

// RolesNotifier announces that an actor's roles changed.
type RolesNotifier interface {
	NotifyRolesChanged(ctx context.Context, actorID string) error
}

// RoleAdminServiceOptions groups dependencies for RoleAdminService.
type RoleAdminServiceOptions struct {
	Roles    ports.RoleStore // Required
	Notifier RolesNotifier   // Optional
	Logger   *slog.Logger    // Optional
}

// RoleAdminService assigns roles on behalf of administrators. Every change is
// committed together with its activity log entry.
type RoleAdminService struct {
	roles    ports.RoleStore
	notifier RolesNotifier
	logger   *slog.Logger
}

// NewRoleAdminService constructs a new RoleAdminService.
func NewRoleAdminService(opts RoleAdminServiceOptions) (*RoleAdminService, error) {
	if opts.Roles == nil {
		return nil, errors.New("Roles is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleAdminService{
		roles:    opts.Roles,
		notifier: opts.Notifier,
		logger:   logger.With("component", "role_admin_service"),
	}, nil
}

// SetRoleInput groups parameters for SetRole.
type SetRoleInput struct {
	AdminID string
	UserID  string
	Role    domainauth.Role
}

// SetRole replaces the user's roles with the single given role.
// The acting administrator must currently hold the admin role.
func (s *RoleAdminService) SetRole(ctx context.Context, in SetRoleInput) error {
	if in.UserID == "" {
		return apperrors.ValidationField("user_id", "User is required.")
	}
	if !in.Role.Valid() {
		return apperrors.ValidationField("role", fmt.Sprintf("Unknown role %q.", in.Role))
	}
	if err := s.requireAdmin(ctx, in.AdminID); err != nil {
		return err
	}

	err := s.apply(ctx, ports.RoleChange{
		ActorID: in.UserID,
		Roles:   []domainauth.Role{in.Role},
		Audit: ports.ActivityEntry{
			AdminID:    in.AdminID,
			Action:     "role_changed_to_" + string(in.Role),
			TargetType: "user",
			TargetID:   in.UserID,
			Details:    map[string]string{"role": string(in.Role)},
		},
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "role changed",
		"admin_id", in.AdminID,
		"user_id", in.UserID,
		"role", in.Role)
	return nil
}

// apply commits change and then tells listeners to re-read the actor's roles.
// Listeners are told whether or not ApplyChange succeeds; an unacknowledged commit
// may still have applied.
func (s *RoleAdminService) apply(ctx context.Context, change ports.RoleChange) error {
	err := s.roles.ApplyChange(ctx, change)
	if errors.Is(err, ports.ErrAdminExists) {
		return ErrAdminExists
	}
	if s.notifier != nil {
		if nerr := s.notifier.NotifyRolesChanged(ctx, change.ActorID); nerr != nil {
			s.logger.WarnContext(ctx, "notify roles changed failed", "user_id", change.ActorID, "error", nerr)
		}
	}
	if err != nil {
		return fmt.Errorf("apply role change: %w", err)
	}
	return nil
}

// ErrAdminExists is returned by BootstrapAdmin once any administrator exists.
var ErrAdminExists = apperrors.Conflict("an administrator already exists")

// BootstrapAdmin grants the admin role to userID when no administrator exists yet.
// The check and the grant are one store transaction. The grant is recorded as self-issued.
func (s *RoleAdminService) BootstrapAdmin(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.ValidationField("user_id", "User is required.")
	}
	err := s.apply(ctx, ports.RoleChange{
		ActorID: userID,
		Roles:   []domainauth.Role{domainauth.RoleAdmin},
		Audit: ports.ActivityEntry{
			AdminID:    userID,
			Action:     "role_changed_to_" + string(domainauth.RoleAdmin),
			TargetType: "user",
			TargetID:   userID,
			Details:    map[string]string{"role": string(domainauth.RoleAdmin), "bootstrap": "true"},
		},
		OnlyIfNoAdmin: true,
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "bootstrap administrator granted", "user_id", userID)
	return nil
}

// ListRoles returns every user's roles keyed by user ID.
func (s *RoleAdminService) ListRoles(ctx context.Context) (map[string][]domainauth.Role, error) {
	out, err := s.roles.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	return out, nil
}

func (s *RoleAdminService) requireAdmin(ctx context.Context, adminID string) error {
	if adminID == "" {
		return apperrors.Unauthorized("admin role required")
	}
	roles, err := s.roles.LookupRoles(ctx, adminID)
	if err != nil {
		return fmt.Errorf("lookup admin roles: %w", err)
	}
	if !slices.Contains(roles, domainauth.RoleAdmin) {
		return apperrors.Unauthorized("admin role required")
	}
	return nil
}
