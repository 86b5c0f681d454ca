// Package webctx defines the two capabilities a context instance may
// offer and the wrapper that lifts the legacy one into the managed one.
//
// A Helper is the legacy, identity-less hook set: security check, resource
// lookup, and MIME mapping.  A Context is a Helper bound to a tenant and a
// context name; it is what servlets and filters see at request time.
package webctx

import (
	"mime"
	"net/http"
	"net/url"
	"path"

	"github.com/yanizio/whiteboard/internal/tenant"
)

// Helper is the plain per-context hook set.
type Helper interface {
	// HandleSecurity runs before the filter pipeline.  Returning false
	// stops the request; the helper is expected to have written a response.
	HandleSecurity(w http.ResponseWriter, r *http.Request) bool
	// Resource maps a resource name to a location, or nil when absent.
	Resource(name string) *url.URL
	// MimeType returns the content type for name, or "" to let the
	// container decide.
	MimeType(name string) string
}

// Context is a managed context instance bound to a tenant and a name.
type Context interface {
	Helper
	Name() string
	Tenant() *tenant.Tenant
}

// Shared is implemented by contexts that advertise whether several
// tenants may populate them.
type Shared interface {
	Shared() bool
}

//
// Wrapper
//

type wrapper struct {
	helper Helper
	tenant *tenant.Tenant
	name   string
}

// Wrap binds a legacy Helper to the calling tenant and the declared
// context name.  Wrapping a value that is already a Context returns a new
// binding; the wrapped context's own identity is ignored.
func Wrap(t *tenant.Tenant, h Helper, name string) Context {
	return &wrapper{helper: h, tenant: t, name: name}
}

func (w *wrapper) HandleSecurity(rw http.ResponseWriter, r *http.Request) bool {
	return w.helper.HandleSecurity(rw, r)
}
func (w *wrapper) Resource(name string) *url.URL { return w.helper.Resource(name) }
func (w *wrapper) MimeType(name string) string   { return w.helper.MimeType(name) }
func (w *wrapper) Name() string                  { return w.name }
func (w *wrapper) Tenant() *tenant.Tenant        { return w.tenant }

// Unwrap returns the wrapped Helper.
func (w *wrapper) Unwrap() Helper { return w.helper }

// Shared forwards to the wrapped helper when it advertises the flag.
// A wrapped legacy helper is otherwise never shared.
func (w *wrapper) Shared() bool {
	if s, ok := w.helper.(Shared); ok {
		return s.Shared()
	}
	return false
}

//
// Default helper
//

// DefaultHelper allows every request, resolves no resources, and maps
// MIME types by file extension.
type DefaultHelper struct{}

func (DefaultHelper) HandleSecurity(http.ResponseWriter, *http.Request) bool { return true }
func (DefaultHelper) Resource(string) *url.URL                               { return nil }
func (DefaultHelper) MimeType(name string) string {
	return mime.TypeByExtension(path.Ext(name))
}
