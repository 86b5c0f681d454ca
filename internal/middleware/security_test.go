package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/middleware"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/resolver"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// gate is a helper whose security answer is fixed.
type gate struct {
	allow    bool
	redirect bool
}

func (g gate) HandleSecurity(w http.ResponseWriter, r *http.Request) bool {
	if !g.allow && g.redirect {
		http.Redirect(w, r, "/login", http.StatusFound)
	}
	return g.allow
}
func (gate) Resource(string) *url.URL { return nil }
func (gate) MimeType(string) string   { return "" }

// binder resolves everything to one model backed by a real resolver.
type binder struct {
	model *model.ContextModel
	res   *resolver.Resolver
	host  string
}

func (b *binder) ResolveFor(host, _ string) *model.ContextModel {
	b.host = host
	return b.model
}

func (b *binder) Acquire(m *model.ContextModel, caller *tenant.Tenant) (*resolver.Lease, error) {
	return b.res.Acquire(m, caller)
}

func (b *binder) Release(l *resolver.Lease) { b.res.Release(l) }

func newBinder(h webctx.Helper) *binder {
	m := model.New(nil, 0, 1)
	m.SetName("guarded")
	if h != nil {
		m.SetSupplier(func(caller *tenant.Tenant, name string) (webctx.Context, error) {
			return webctx.Wrap(caller, h, name), nil
		})
	}
	return &binder{model: m, res: resolver.New(nil, resolver.WithLogger(zap.NewNop()))}
}

func serve(t *testing.T, b middleware.Binder, caller *tenant.Tenant, next http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://acme.example:8080/app/x", nil)
	middleware.Guard(b, caller, zap.NewNop())(next).ServeHTTP(rec, req)
	return rec
}

func TestGuard_BindsContext(t *testing.T) {
	t.Parallel()

	acme := tenant.New(1, "acme")
	b := newBinder(gate{allow: true})
	var seen webctx.Context
	rec := serve(t, b, acme, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "guarded", seen.Name())
	assert.Same(t, acme, seen.Tenant())
	assert.Equal(t, "acme.example", b.host)
}

func TestGuard_Refusals(t *testing.T) {
	t.Parallel()

	acme := tenant.New(1, "acme")
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	assert.Equal(t, http.StatusForbidden, serve(t, newBinder(gate{}), acme, next).Code)

	rec := serve(t, newBinder(gate{redirect: true}), acme, next)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, newBinder(nil), acme, next).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, newBinder(gate{allow: true}), nil, next).Code,
		"supplier contexts need a calling tenant")

	assert.Equal(t, http.StatusNotFound, serve(t, &binder{}, acme, next).Code)
	assert.False(t, called)
}

func TestFromContext_Empty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, middleware.FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	h := middleware.Headers(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
