package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"atelier/internal/config"
	"atelier/internal/models"

	"golang.org/x/time/rate"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	actorIDHeader       = "x-actor-id"
	actorRoleHeader     = "x-actor-role"

	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
	permReadOrders    = "read:orders"
	permWriteOrders   = "write:orders"
	permAdminExport   = "admin:export"
)

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				code := "unauthenticated"
				if err == errPermissionDenied {
					statusCode = http.StatusForbidden
					code = "permission_denied"
				}
				writeError(w, statusCode, code, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

var (
	errPermissionDenied = &authError{"permission denied"}
	errMissingAPIKey    = &authError{"missing api key header"}
	errInvalidAPIKey    = &authError{"invalid api key"}
)

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader()))
	if apiKey == "" {
		return errMissingAPIKey
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}

	return a.checkPermissions(client, r)
}

func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" {
		return nil
	}
	// An empty permissions list means allow-all.
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/exports"):
		return permAdminExport
	case strings.HasPrefix(path, "/api/v1/bookings"):
		if r.Method == http.MethodGet {
			return permReadBookings
		}
		return permWriteBookings
	case strings.HasPrefix(path, "/api/v1/orders"):
		if r.Method == http.MethodGet {
			return permReadOrders
		}
		return permWriteOrders
	}
	return ""
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	lim := a.getLimiter(a.clientKey(r))
	if !lim.Allow() {
		return &authError{"rate limit exceeded"}
	}
	return nil
}

func (a *HTTPAuth) apiKeyHeader() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		h = apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

// actorFromRequest reads the acting party from request headers. Every
// mutating endpoint requires one; reads do not.
func actorFromRequest(r *http.Request) (models.Actor, bool) {
	role := strings.TrimSpace(r.Header.Get(actorRoleHeader))
	switch role {
	case models.RoleCustomer, models.RoleTailor, models.RoleAdmin:
	default:
		return models.Actor{}, false
	}

	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(actorIDHeader)), 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, false
	}

	return models.Actor{ID: id, Role: role}, true
}
