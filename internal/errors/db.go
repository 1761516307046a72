package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reDetailKey matches "Key (email)=(rex@example.com) already exists.".
var reDetailKey = regexp.MustCompile(`Key \(([^)]+)\)=`)

// constraintFields names the form field behind each known constraint.
var constraintFields = map[string]string{
	"users_email_key":             "email",
	"profiles_username_unique":    "username",
	"profiles_username_length":    "username",
	"user_roles_user_id_role_key": "role",
	"user_roles_user_id_fkey":     "user_id",
	"activity_logs_admin_id_fkey": "admin_id",
}

// tableNouns are user-facing names for tables that show up in foreign key failures.
var tableNouns = map[string]string{
	"users":         "user",
	"profiles":      "profile",
	"user_roles":    "role assignment",
	"activity_logs": "activity log entry",
}

// MapDBError converts driver errors into AppErrors:
//
//	context deadline/cancel → Timeout/Canceled
//	pgx.ErrNoRows           → NotFound
//	unique violation        → Conflict (with Field when known)
//	foreign key violation   → ForeignKey
//	check/not null/enum     → Validation
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	case errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "Not found.", Cause: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{Code: ErrCodeConflict, Message: conflictMessage(fieldFor(pgErr)), Field: fieldFor(pgErr), Cause: pgErr}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{Code: ErrCodeForeignKey, Message: foreignKeyMessage(pgErr), Field: constraintFields[pgErr.ConstraintName], Cause: pgErr}
	case pgerrcode.NotNullViolation:
		return &AppError{Code: ErrCodeValidation, Message: "This field is required.", Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.CheckViolation:
		return &AppError{Code: ErrCodeValidation, Message: "This field has an invalid value.", Field: fieldFor(pgErr), Cause: pgErr}
	case pgerrcode.InvalidTextRepresentation:
		return &AppError{Code: ErrCodeValidation, Message: "Unrecognized value.", Field: pgErr.ColumnName, Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

// fieldFor prefers known constraints, then column metadata, then the detail text.
func fieldFor(pgErr *pgconn.PgError) string {
	if f, ok := constraintFields[pgErr.ConstraintName]; ok {
		return f
	}
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reDetailKey.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return ""
}

func conflictMessage(field string) string {
	switch field {
	case "email":
		return "An account with this email already exists."
	case "username":
		return "This username is taken."
	case "role":
		return "The user already has this role."
	default:
		return "This value already exists."
	}
}

// foreignKeyMessage distinguishes a missing parent row from a parent that is still referenced.
func foreignKeyMessage(pgErr *pgconn.PgError) string {
	noun := func(table string) string {
		if n, ok := tableNouns[strings.Trim(table, `"`)]; ok {
			return n
		}
		return "record"
	}

	switch {
	case strings.Contains(pgErr.Detail, "is not present in table"):
		return "The referenced " + noun(detailTable(pgErr.Detail, "is not present in table")) + " does not exist."
	case strings.Contains(pgErr.Detail, "is still referenced from table"):
		return "This item is still used by " + withArticle(noun(detailTable(pgErr.Detail, "is still referenced from table"))) + "."
	case pgErr.TableName != "":
		return "This item is linked to " + withArticle(noun(pgErr.TableName)) + "."
	default:
		return "This item is linked to another record."
	}
}

func detailTable(detail, marker string) string {
	_, rest, ok := strings.Cut(detail, marker)
	if !ok {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(rest), ".")
}

func withArticle(noun string) string {
	if strings.ContainsAny(noun[:1], "aeiou") {
		return "an " + noun
	}
	return "a " + noun
}
