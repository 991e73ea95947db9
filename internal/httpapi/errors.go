package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"starterkit.dev/internal/audit"
	"starterkit.dev/internal/auth"
	"starterkit.dev/internal/obs"
	"starterkit.dev/internal/validate"
)

const msgInternal = "Internal Server Error"

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

// normalize maps an error to the status and message a client may see.
// Internal details are only exposed when dev is set.
func normalize(err error, dev bool) (int, string) {
	var (
		verr  *validate.ValidationError
		aerr  *auth.AuthError
		cerr  *auth.ConflictError
		nerr  *auth.NotFoundError
		terr  *auth.TokenError
		ccerr *auth.ConstraintError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.As(err, &aerr):
		status := aerr.Status
		if status == 0 {
			status = http.StatusUnauthorized
		}
		return status, aerr.Message
	case errors.As(err, &cerr):
		return http.StatusConflict, cerr.Message
	case errors.As(err, &nerr):
		return http.StatusNotFound, nerr.Message
	case errors.As(err, &terr):
		return http.StatusUnauthorized, auth.ErrInvalidToken.Message
	case errors.As(err, &ccerr):
		switch ccerr.Kind {
		case auth.ConstraintUnique:
			return http.StatusConflict, "Resource already exists"
		case auth.ConstraintForeignKey:
			return http.StatusBadRequest, "Invalid reference to a related resource"
		case auth.ConstraintNotNull:
			return http.StatusBadRequest, "A required field is missing"
		}
	}
	if dev && err != nil {
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusInternalServerError, msgInternal
}

// writeFailure logs err and writes the error envelope. It is the only place
// that turns errors into responses.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, dev bool) {
	status, msg := normalize(err, dev)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	obs.Logger().LogAttrs(r.Context(), level, "request_failed",
		slog.String("request_id", audit.RequestIDFromContext(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", errString(err)),
	)

	switch {
	case status == http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case errors.Is(err, auth.ErrInsufficientRole):
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
	}
	writeError(w, status, msg)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeFailure(w, r, err, a.dev)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Success: false, Message: msg})
}
