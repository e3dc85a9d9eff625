package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what browser clients (the CRM dashboard) may do cross-origin.
// An origin of "*" allows any origin.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSPolicy allows the verbs and headers used by the calendar API.
func DefaultCORSPolicy(origins []string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader, OwnerHeader, "traceparent"},
		MaxAge:         10 * time.Minute,
	}
}

type corsRules struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     map[string]struct{}
	credentials bool
	headers     map[string]string
}

func (p CORSPolicy) compile() corsRules {
	r := corsRules{
		origins:     map[string]struct{}{},
		methods:     map[string]struct{}{},
		credentials: p.AllowCredentials,
		headers:     map[string]string{},
	}
	for _, o := range trimAll(p.AllowedOrigins) {
		if o == "*" {
			r.anyOrigin = true
			continue
		}
		r.origins[strings.ToLower(o)] = struct{}{}
	}
	methods := trimAll(p.AllowedMethods)
	for _, m := range methods {
		r.methods[strings.ToUpper(m)] = struct{}{}
	}
	if len(methods) > 0 {
		r.headers["Access-Control-Allow-Methods"] = strings.Join(methods, ", ")
	}
	if hs := trimAll(p.AllowedHeaders); len(hs) > 0 {
		r.headers["Access-Control-Allow-Headers"] = strings.Join(hs, ", ")
	}
	if secs := int(p.MaxAge.Seconds()); secs > 0 {
		r.headers["Access-Control-Max-Age"] = strconv.Itoa(secs)
	}
	if p.AllowCredentials {
		r.headers["Access-Control-Allow-Credentials"] = "true"
	}
	return r
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin. A wildcard policy
// echoes the origin when credentials are allowed, since browsers reject "*" with credentials.
func (r corsRules) allowOrigin(origin string) (string, bool) {
	if _, ok := r.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	if r.anyOrigin {
		if r.credentials {
			return origin, true
		}
		return "*", true
	}
	return "", false
}

func (r corsRules) allowsMethod(m string) bool {
	if len(r.methods) == 0 {
		return true
	}
	_, ok := r.methods[strings.ToUpper(m)]
	return ok
}

// WithCORS answers preflights and decorates responses for allowed origins. Requests from other
// origins pass through without CORS headers; a preflight asking for a method outside the
// policy gets 403. With no AllowedOrigins it is a no-op.
func WithCORS(policy CORSPolicy) Middleware {
	if len(trimAll(policy.AllowedOrigins)) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rules := policy.compile()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, ok := rules.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if !rules.allowsMethod(r.Header.Get("Access-Control-Request-Method")) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}

			h.Set("Access-Control-Allow-Origin", allowed)
			for k, v := range rules.headers {
				h.Set(k, v)
			}
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
