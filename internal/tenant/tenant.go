// internal/tenant/tenant.go
//
// Tenant identity.
//
// Context
// -------
// A Tenant is one independently deployed unit of code that contributes
// contexts, servlets, filters, and listeners to the shared runtime.  The
// core never looks inside a tenant; it only needs a stable identity to
// key per-tenant caches, scope handle dereferencing, and route dynamic
// registrations back to the tenant's container view.
//
// A nil *Tenant means "absent".  On a context model that marks the
// context as shared across all tenants; on an acquire call it means the
// caller has no scope, which the resolver rejects for factory contexts.
//
// Notes
// -----
//   - Registration ids come from one process-wide atomic sequence so
//     "lower id wins" stays meaningful across tenants.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"strconv"
	"sync/atomic"
)

// Tenant identifies a contributing unit of code.
type Tenant struct {
	ID   int64  // framework-assigned, unique per process
	Name string // symbolic name, informational only
}

// New returns a Tenant with the given id and symbolic name.
func New(id int64, name string) *Tenant {
	return &Tenant{ID: id, Name: name}
}

// Key returns the map key used for per-tenant bookkeeping.  The absent
// tenant maps to 0.
func Key(t *Tenant) int64 {
	if t == nil {
		return 0
	}
	return t.ID
}

// Same reports whether a and b denote the same tenant.
func Same(a, b *Tenant) bool { return Key(a) == Key(b) }

func (t *Tenant) String() string {
	if t == nil {
		return "<shared>"
	}
	if t.Name == "" {
		return "tenant#" + strconv.FormatInt(t.ID, 10)
	}
	return t.Name + "#" + strconv.FormatInt(t.ID, 10)
}

//
// Registration id sequence
//

var lastID atomic.Int64

// NextID hands out the next registration id.  Ids start at 1; 0 is
// reserved for the default context.
func NextID() int64 { return lastID.Add(1) }
