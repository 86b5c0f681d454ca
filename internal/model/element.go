package model

import (
	"net/http"

	"github.com/yanizio/whiteboard/internal/tenant"
)

// Element carries the registration data shared by servlets, filters, and
// listeners.
type Element struct {
	ID          int64
	Priority    int
	Tenant      *tenant.Tenant
	ContextName string // target context; empty selects the default context
	// Dynamic marks elements added at runtime by initializers or other
	// listeners rather than through a ranked registration.
	Dynamic bool
}

// Registrant returns the registering tenant.
func (e *Element) Registrant() *tenant.Tenant { return e.Tenant }

// TargetContext returns the selected context name, falling back to the
// default context.
func (e *Element) TargetContext() string {
	if e.ContextName == "" {
		return DefaultContextName
	}
	return e.ContextName
}

// ServletModel is a servlet registration.
type ServletModel struct {
	Element
	Name     string
	Patterns []string
	Handler  http.Handler
}

// FilterModel is a filter registration.  Middleware uses the chi
// middleware shape.
type FilterModel struct {
	Element
	Name       string
	Patterns   []string
	Middleware func(http.Handler) http.Handler
}

// ListenerModel is a listener registration.  Listener may implement any
// combination of the capabilities in internal/listener.
type ListenerModel struct {
	Element
	Listener any
}
