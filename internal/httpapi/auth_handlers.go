package httpapi

import (
	"net/http"

	"starterkit.dev/internal/auth"
)

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	session, err := a.auth.Register(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "User registered successfully", session)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	session, err := a.auth.Login(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Login successful", session)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	user, err := a.users.Get(r.Context(), principal.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Profile retrieved successfully", map[string]any{
		"user":  user,
		"roles": principal.Roles,
	})
}
