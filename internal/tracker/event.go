package tracker

import (
	"fmt"

	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// Kind is the change an Event reports.
type Kind int

const (
	Created Kind = iota + 1
	Updated
	Removed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Target is the kind of registration an Event is about.
type Target int

const (
	TargetContext Target = iota + 1
	TargetServlet
	TargetFilter
	TargetListener
)

func (t Target) String() string {
	switch t {
	case TargetContext:
		return "context"
	case TargetServlet:
		return "servlet"
	case TargetFilter:
		return "filter"
	case TargetListener:
		return "listener"
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// Scope says how often a supplier is expected to produce a new instance.
type Scope int

const (
	ScopePrototype Scope = iota // new instance per call, the default
	ScopeSingleton              // same instance every time; eligible for promotion
)

// ContextSpec describes a context registration.  Exactly one of Instance,
// Supplier, and Reference should be set.
type ContextSpec struct {
	Name         string
	Path         string
	Params       map[string]string
	VirtualHosts []string
	Shared       bool
	Scope        Scope

	Instance  webctx.Context
	Supplier  model.Supplier
	Reference model.Handle
}

// Event is one registration change published by the framework.  Tenant,
// Priority, and ID identify the registration; the payload matching Target
// carries the rest.  Removed events only need the identity plus, for
// servlets, filters, and listeners, the payload they were created with.
type Event struct {
	Kind     Kind
	Target   Target
	Tenant   *tenant.Tenant
	Priority int
	ID       int64

	Context  *ContextSpec
	Servlet  *model.ServletModel
	Filter   *model.FilterModel
	Listener *model.ListenerModel
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s id=%d tenant=%s", e.Target, e.Kind, e.ID, e.Tenant)
}

// element stamps the event identity on a payload element.
func (e Event) element(el *model.Element) {
	el.ID, el.Priority, el.Tenant = e.ID, e.Priority, e.Tenant
}
