package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/data/pgxutil"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/ports"
)

// UserRepo stores actors in the users table and their public profile in profiles.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

var _ ports.UserStore = (*UserRepo)(nil)

// Create inserts the user, profile and initial role rows in one transaction.
// A taken email or username is reported as a conflict on that field.
func (r *UserRepo) Create(ctx context.Context, actor domainauth.Actor, passwordHash []byte, roles []domainauth.Role) error {
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`,
				actor.ID, actor.Email, nullableBytes(passwordHash),
			); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO profiles (id, username, display_name) VALUES ($1, $2, NULLIF($3, ''))`,
				actor.ID, actor.Username, actor.DisplayName,
			); err != nil {
				return err
			}
			for _, role := range roles {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO user_roles (user_id, role) VALUES ($1, $2::app_role)`,
					actor.ID, string(role),
				); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("create user: %w", apperrors.MapDBError(err))
	}
	return nil
}

// FindByEmail returns the actor and password hash registered under email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (ports.Credentials, error) {
	const q = `
		SELECT u.id, u.email, u.password_hash, p.username, COALESCE(p.display_name, '')
		FROM users u
		JOIN profiles p ON p.id = u.id
		WHERE u.email = $1`

	var creds ports.Credentials
	err := r.DB.QueryRowContext(ctx, q, email).Scan(
		&creds.Actor.ID,
		&creds.Actor.Email,
		&creds.PasswordHash,
		&creds.Actor.Username,
		&creds.Actor.DisplayName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Credentials{}, apperrors.NotFound("user not found")
	}
	if err != nil {
		return ports.Credentials{}, fmt.Errorf("find user by email: %w", apperrors.MapDBError(err))
	}
	return creds, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
