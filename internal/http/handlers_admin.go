package httpx

import (
	"log/slog"
	"net/http"
	"strings"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/http/validation"
	"github.com/puppy-social/puppy/internal/routeguard"
	"github.com/puppy-social/puppy/internal/service"
)

var assignableRoles = []string{
	string(domainauth.RoleUser),
	string(domainauth.RoleModerator),
	string(domainauth.RoleAdmin),
}

// AdminHandlers serves the administration actions behind RequireAdmin.
type AdminHandlers struct {
	Roles  RoleAdmin
	Shell  *ShellHandlers
	Logger *slog.Logger
}

func (h *AdminHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// SetRole replaces a user's role.
// POST /admin/roles (form or JSON: user_id, role).
func (h *AdminHandlers) SetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	browser := isBrowserRequest(r)
	if browser {
		req.UserID = r.PostFormValue("user_id")
		req.Role = r.PostFormValue("role")
	} else if !DecodeJSON(w, r, &req) {
		return
	}

	fv := validation.New().
		Validate("user_id", req.UserID, validation.Required("User", 64)).
		Validate("role", req.Role, validation.OneOf("Role", assignableRoles))
	if !fv.Valid() {
		h.reply(w, r, http.StatusBadRequest, apperrors.ValidationField(fv.FirstField(), fv.First()))
		return
	}

	role, _ := domainauth.ParseRole(strings.ToLower(strings.TrimSpace(req.Role)))
	err := h.Roles.SetRole(r.Context(), service.SetRoleInput{
		AdminID: ActorIDFromContext(r.Context()),
		UserID:  req.UserID,
		Role:    role,
	})
	if err != nil {
		if errorStatus(err) >= http.StatusInternalServerError {
			h.logger().ErrorContext(r.Context(), "set role failed", "user_id", req.UserID, "error", err)
		}
		h.reply(w, r, errorStatus(err), err)
		return
	}

	h.logger().InfoContext(r.Context(), "role changed", "user_id", req.UserID, "role", role)
	if browser {
		http.Redirect(w, r, routeguard.PathAdmin, http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID, "role": string(role)})
}

// reply reports err as JSON to API clients and on the admin view to browsers.
func (h *AdminHandlers) reply(w http.ResponseWriter, r *http.Request, status int, err error) {
	if !isBrowserRequest(r) {
		WriteAppError(w, err)
		return
	}
	h.Shell.renderAt(w, r, routeguard.PathAdmin, status, errorMessage(err))
}
