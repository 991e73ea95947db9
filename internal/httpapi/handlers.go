package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"starterkit.dev/internal/auth"
	"starterkit.dev/internal/obs"
	"starterkit.dev/internal/users"
	"starterkit.dev/internal/validate"
)

const serviceName = "starterkit-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by auth.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the credential store answers.
type ReadyProbe struct {
	Store   Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Options tunes the HTTP layer.
type Options struct {
	Version string
	// Development exposes internal error messages in 500 responses.
	Development bool
	// Limiter guards /auth/register and /auth/login. When nil an in-memory
	// limiter with RateBurst and RatePerSecond is used.
	Limiter       Limiter
	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
	// TrustProxy keys the limiter on X-Forwarded-For instead of the socket
	// peer. Enable only behind a proxy that sets the header.
	TrustProxy bool
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	users      *users.Service
	ready      readinessChecker
	limiter    Limiter
	trustProxy bool
	version    string
	dev        bool
	maxBody    int64
}

// New wires routes for the auth and user services.
func New(authSvc *auth.Service, userSvc *users.Service, rp readinessChecker, opts Options) *API {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(opts.RateBurst, opts.RatePerSecond)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		users:      userSvc,
		ready:      rp,
		limiter:    limiter,
		trustProxy: opts.TrustProxy,
		version:    opts.Version,
		dev:        opts.Development,
		maxBody:    maxBody,
	}
	obs.Init()
	a.routes()
	return a
}

type methods map[string]http.Handler

// handle registers one handler per method on path, and a fallback that
// answers 405 with the Allow header for every other method.
func (a *API) handle(path string, m methods) {
	allow := make([]string, 0, len(m)+1)
	for method, h := range m {
		a.mux.Handle(method+" "+path, h)
		allow = append(allow, method)
		if method == http.MethodGet {
			allow = append(allow, http.MethodHead)
		}
	}
	sort.Strings(allow)
	allowHeader := strings.Join(allow, ", ")
	a.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allowHeader)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// authed requires a bearer token and, when roles are given, one of them.
func (a *API) authed(h http.HandlerFunc, roles ...string) http.Handler {
	if len(roles) == 0 {
		return a.withAuth(h)
	}
	return a.withAuth(RequireRole(roles...)(h))
}

func (a *API) routes() {
	limited := func(h http.HandlerFunc) http.Handler { return RateLimit(h, a.limiter, a.trustProxy) }

	a.handle("/healthz", methods{http.MethodGet: http.HandlerFunc(a.Healthz)})
	a.handle("/readyz", methods{http.MethodGet: http.HandlerFunc(a.Ready)})
	a.handle("/metrics", methods{http.MethodGet: obs.Handler()})

	a.handle("/auth/register", methods{http.MethodPost: limited(a.register)})
	a.handle("/auth/login", methods{http.MethodPost: limited(a.login)})
	a.handle("/auth/me", methods{http.MethodGet: a.authed(a.me)})

	a.handle("/users", methods{http.MethodGet: a.authed(a.listUsers, auth.RoleAdmin)})
	a.handle("/users/{id}", methods{
		http.MethodGet:    a.authed(a.getUser),
		http.MethodPut:    a.authed(a.updateUser, auth.RoleAdmin),
		http.MethodDelete: a.authed(a.deleteUser, auth.RoleAdmin),
	})
	a.handle("/users/{id}/deactivate", methods{http.MethodPatch: a.authed(a.deactivateUser, auth.RoleAdmin)})
	a.handle("/users/{id}/roles", methods{http.MethodPost: a.authed(a.assignRole, auth.RoleAdmin)})
	a.handle("/audit-logs", methods{http.MethodGet: a.authed(a.auditLogs, auth.RoleAdmin)})

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Close releases the rate limiter.
func (a *API) Close() error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Close()
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Check(r.Context()); err != nil {
			obs.SetReady(false)
			resp := map[string]any{"status": "not_ready"}
			if a.dev {
				resp["error"] = err.Error()
			}
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

// decodeJSON reads exactly one JSON object into dst. Unknown fields and
// trailing data are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return validate.Errorf("Request body too large")
		case errors.Is(err, io.EOF):
			return validate.Errorf("Request body is required")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return validate.Errorf("Unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		default:
			return validate.Errorf("Invalid JSON body")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return validate.Errorf("Request body must contain a single JSON object")
	}
	return nil
}
