package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/puppy-social/puppy/internal/data/pgxutil"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/ports"
)

const maxActivityPageSize = 100

// ActivityLogRepo appends to and reads the activity_logs audit table.
type ActivityLogRepo struct {
	DB *sql.DB
}

// NewActivityLogRepo creates a new ActivityLogRepo.
func NewActivityLogRepo(db *sql.DB) *ActivityLogRepo {
	return &ActivityLogRepo{DB: db}
}

var _ ports.ActivityLog = (*ActivityLogRepo)(nil)

const insertActivitySQL = `
		INSERT INTO activity_logs (admin_id, action, target_type, target_id, details)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`

// activityArgs returns the insertActivitySQL arguments for entry.
func activityArgs(entry ports.ActivityEntry) ([]any, error) {
	if entry.AdminID == "" || entry.Action == "" {
		return nil, errors.New("admin_id and action are required")
	}

	var details []byte
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}
	return []any{entry.AdminID, entry.Action, entry.TargetType, entry.TargetID, details}, nil
}

// Record inserts one audit row.
func (r *ActivityLogRepo) Record(ctx context.Context, entry ports.ActivityEntry) error {
	args, err := activityArgs(entry)
	if err != nil {
		return err
	}
	if _, err := r.DB.ExecContext(ctx, insertActivitySQL, args...); err != nil {
		return fmt.Errorf("record activity: %w", apperrors.MapDBError(err))
	}
	return nil
}

type activityRow struct {
	ID            string    `db:"id"`
	AdminID       string    `db:"admin_id"`
	AdminUsername *string   `db:"admin_username"`
	Action        string    `db:"action"`
	TargetType    *string   `db:"target_type"`
	TargetID      *string   `db:"target_id"`
	Details       []byte    `db:"details"`
	CreatedAt     time.Time `db:"created_at"`
}

// Recent returns the newest records with the acting admin's username. Limit is capped at 100.
func (r *ActivityLogRepo) Recent(ctx context.Context, limit int) ([]ports.ActivityRecord, error) {
	if limit <= 0 || limit > maxActivityPageSize {
		limit = maxActivityPageSize
	}

	const q = `
		SELECT a.id::text AS id, a.admin_id::text AS admin_id, p.username AS admin_username,
		       a.action, a.target_type, a.target_id, a.details, a.created_at
		FROM activity_logs a
		LEFT JOIN profiles p ON p.id = a.admin_id
		ORDER BY a.created_at DESC, a.id
		LIMIT $1`

	var rows []activityRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx, q, limit)
		if err != nil {
			return err
		}
		rows, err = pgx.CollectRows(res, pgx.RowToStructByName[activityRow])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", apperrors.MapDBError(err))
	}

	out := make([]ports.ActivityRecord, 0, len(rows))
	for _, row := range rows {
		rec := ports.ActivityRecord{
			ID:        row.ID,
			CreatedAt: row.CreatedAt,
			ActivityEntry: ports.ActivityEntry{
				AdminID:    row.AdminID,
				Action:     row.Action,
				TargetType: deref(row.TargetType),
				TargetID:   deref(row.TargetID),
			},
			AdminUsername: deref(row.AdminUsername),
		}
		if len(row.Details) > 0 {
			if err := json.Unmarshal(row.Details, &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details of %s: %w", row.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
