package httpapi

import (
	"net/http"
	"strconv"

	"starterkit.dev/internal/auth"
	"starterkit.dev/internal/users"
	"starterkit.dev/internal/validate"
)

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.users.List(r.Context(), page, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Users retrieved successfully",
		Data:    res.Users,
		Pagination: &pagination{
			Page:       res.Page,
			Limit:      res.Limit,
			Total:      res.Total,
			TotalPages: res.TotalPages,
		},
	})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User retrieved successfully", user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var in users.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.users.Update(r.Context(), auth.ActorID(r.Context()), r.PathValue("id"), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User updated successfully", user)
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := a.users.Deactivate(r.Context(), auth.ActorID(r.Context()), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User deactivated successfully", nil)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.users.Delete(r.Context(), auth.ActorID(r.Context()), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User deleted successfully", nil)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var in assignRoleRequest
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := a.users.AssignRole(r.Context(), auth.ActorID(r.Context()), id, in.Role); err != nil {
		a.fail(w, r, err)
		return
	}
	roles, err := a.users.Roles(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Role assigned successfully", map[string]any{
		"user_id": id,
		"roles":   roles,
	})
}

func (a *API) auditLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.users.AuditLog(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Audit log retrieved successfully", entries)
}

// queryInt parses an optional positive integer query parameter; 0 means unset.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, validate.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}
