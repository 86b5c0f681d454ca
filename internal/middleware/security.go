// internal/middleware/security.go
//
// Context-binding and security middleware.
//
// Context
// -------
// Every request to a servlet runs inside the context model that wins for
// its host and path.  Guard resolves that model, borrows its instance for
// the tenant that registered the servlet, and asks the instance whether
// the request may proceed.  The instance travels with the request so the
// servlet can reach resources and MIME types, and the lease is released
// when the handler returns.
//
// Headers adds the usual hardening headers and is used by the
// inspection router.
//
// Notes
// -----
//   - A refused request that wrote nothing gets 403.  A helper that wrote
//     its own response (a redirect to a login page, say) is left alone.
//   - No winning model means 404; a failed acquire means 503.
//   - Oxford commas, two spaces after periods.
package middleware

import (
	"context"
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/resolver"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// Binder is the part of the whiteboard Guard needs.
type Binder interface {
	ResolveFor(host, path string) *model.ContextModel
	Acquire(m *model.ContextModel, caller *tenant.Tenant) (*resolver.Lease, error)
	Release(l *resolver.Lease)
}

type ctxKey struct{}

// FromContext returns the context instance bound by Guard, or nil.
func FromContext(ctx context.Context) webctx.Context {
	c, _ := ctx.Value(ctxKey{}).(webctx.Context)
	return c
}

// Guard binds requests to their winning context on behalf of caller.
func Guard(b Binder, caller *tenant.Tenant, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := b.ResolveFor(stripPort(r.Host), r.URL.Path)
			if m == nil {
				http.NotFound(w, r)
				return
			}

			lease, err := b.Acquire(m, caller)
			if err != nil {
				log.Warn("context unavailable for request",
					zap.String("path", r.URL.Path), zap.Stringer("model", m), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			defer b.Release(lease)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			if !lease.Context.HandleSecurity(ww, r) {
				if ww.Status() == 0 {
					http.Error(ww, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), ctxKey{}, lease.Context)))
		})
	}
}

// Headers sets security headers on every response.  Handlers may
// override them.
func Headers(next http.Handler) http.Handler {
	defaults := [...][2]string{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range defaults {
			if h.Get(kv[0]) == "" {
				h.Set(kv[0], kv[1])
			}
		}
		next.ServeHTTP(w, r)
	})
}

// stripPort removes the :port suffix from Host when present.
func stripPort(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}
