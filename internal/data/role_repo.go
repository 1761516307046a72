package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/data/pgxutil"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/ports"
)

var tracer = otel.Tracer("github.com/puppy-social/puppy/internal/data")

// bootstrapAdminLock serializes first-admin grants across processes.
const bootstrapAdminLock int64 = 0x7075707079 // "puppy"

// RoleRepo reads and replaces rows in user_roles.
// Every lookup runs its own query, so a lookup issued after a role change never
// observes the state from before it.
type RoleRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewRoleRepo creates a new RoleRepo.
func NewRoleRepo(db *sql.DB, logger *slog.Logger) *RoleRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleRepo{DB: db, logger: logger.With("component", "role_repo")}
}

var _ ports.RoleStore = (*RoleRepo)(nil)

// LookupRoles returns the actor's roles. Unknown role names are skipped.
func (r *RoleRepo) LookupRoles(ctx context.Context, actorID string) ([]domainauth.Role, error) {
	ctx, span := tracer.Start(ctx, "roles.Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID))

	roles, err := r.queryRoles(ctx, actorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return roles, nil
}

func (r *RoleRepo) queryRoles(ctx context.Context, actorID string) ([]domainauth.Role, error) {
	var names []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT role::text FROM user_roles WHERE user_id = $1 ORDER BY role`, actorID)
		if err != nil {
			return err
		}
		names, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lookup roles: %w", apperrors.MapDBError(err))
	}
	return r.parseRoles(actorID, names), nil
}

func (r *RoleRepo) parseRoles(actorID string, names []string) []domainauth.Role {
	roles := make([]domainauth.Role, 0, len(names))
	for _, name := range names {
		role, ok := domainauth.ParseRole(name)
		if !ok {
			r.logger.Warn("ignoring unknown role", "actor_id", actorID, "role", name)
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

// ReplaceRoles atomically replaces the actor's roles.
func (r *RoleRepo) ReplaceRoles(ctx context.Context, actorID string, roles []domainauth.Role) error {
	ctx, span := tracer.Start(ctx, "roles.Replace")
	defer span.End()
	span.SetAttributes(attribute.String("actor.id", actorID), attribute.Int("roles.count", len(roles)))

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error { return replaceRolesTx(ctx, tx, actorID, roles) },
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("replace roles: %w", apperrors.MapDBError(err))
	}
	return nil
}

// ApplyChange replaces the actor's roles and inserts the audit row in one transaction.
// With OnlyIfNoAdmin the check and the write run under an advisory lock, so concurrent
// first-admin grants cannot both succeed.
func (r *RoleRepo) ApplyChange(ctx context.Context, change ports.RoleChange) error {
	ctx, span := tracer.Start(ctx, "roles.ApplyChange")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", change.ActorID),
		attribute.Int("roles.count", len(change.Roles)),
		attribute.Bool("only_if_no_admin", change.OnlyIfNoAdmin),
	)

	args, err := activityArgs(change.Audit)
	if err != nil {
		return err
	}

	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if change.OnlyIfNoAdmin {
				if err := requireNoAdminTx(ctx, tx); err != nil {
					return err
				}
			}
			if err := replaceRolesTx(ctx, tx, change.ActorID, change.Roles); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, insertActivitySQL, args...)
			return err
		},
	})
	if errors.Is(err, ports.ErrAdminExists) {
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("apply role change: %w", apperrors.MapDBError(err))
	}
	return nil
}

func requireNoAdminTx(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapAdminLock); err != nil {
		return err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE role = 'admin')`).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ports.ErrAdminExists
	}
	return nil
}

func replaceRolesTx(ctx context.Context, tx pgx.Tx, actorID string, roles []domainauth.Role) error {
	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, actorID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, role := range roles {
		batch.Queue(`INSERT INTO user_roles (user_id, role) VALUES ($1, $2::app_role)`, actorID, string(role))
	}
	return tx.SendBatch(ctx, batch).Close()
}

// ListAssignments returns every actor's roles keyed by actor ID.
func (r *RoleRepo) ListAssignments(ctx context.Context) (map[string][]domainauth.Role, error) {
	type assignment struct {
		UserID string `db:"user_id"`
		Role   string `db:"role"`
	}

	var rows []assignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx, `SELECT user_id::text AS user_id, role::text AS role FROM user_roles ORDER BY user_id, role`)
		if err != nil {
			return err
		}
		rows, err = pgx.CollectRows(res, pgx.RowToStructByName[assignment])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", apperrors.MapDBError(err))
	}

	out := make(map[string][]domainauth.Role)
	for _, a := range rows {
		role, ok := domainauth.ParseRole(a.Role)
		if !ok {
			continue
		}
		out[a.UserID] = append(out[a.UserID], role)
	}
	return out, nil
}
