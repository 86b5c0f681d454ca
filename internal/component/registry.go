// internal/component/registry.go
//
// Component registry (cycle-free).
//
// Each concrete component lives under components/<name> and calls
// component.Register() in an init() function.  At start-up cmd/whiteboard
// calls Install, which gives every component its own tenant, connects
// that tenant to the runtime, and invokes Init with a Host.  Init
// publishes the component's contexts, servlets, filters, and listeners as
// registration events, and may queue dynamic registrations that are
// installed when their context starts.
//
// Components are installed in name order so registration ids, and with
// them tie-breaks, are stable from run to run.
package component

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/dynreg"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/tracker"
)

// Host is what a component reaches during Init.
type Host interface {
	// Tenant is the component's own tenant.
	Tenant() *tenant.Tenant
	// Emit stamps ev with the component's tenant, assigns a registration
	// id when ev.ID is zero, and applies it.  The id is returned so the
	// component can later update or remove the registration.
	Emit(ev tracker.Event) (int64, error)
	// Buffer queues a dynamic registration for the context reg names.
	Buffer(kind dynreg.Kind, reg any) error
	Logger() *zap.Logger
}

// Component contract.
type Component interface {
	Name() string
	Init(Host) error
}

// Runtime is the part of the whiteboard Install needs.
type Runtime interface {
	Connect(*tenant.Tenant)
	Disconnect(*tenant.Tenant)
	BufferDynamicRegistration(*tenant.Tenant, dynreg.Kind, any) error
}

var (
	mu       sync.RWMutex
	registry = map[string]Component{}
)

// Register is invoked from component init() functions.
func Register(c Component) {
	mu.Lock()
	registry[c.Name()] = c
	mu.Unlock()
}

// All returns every registered component sorted by name.
func All() []Component {
	mu.RLock()
	out := make([]Component, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	mu.RUnlock()

	slices.SortFunc(out, func(a, b Component) int { return cmp.Compare(a.Name(), b.Name()) })
	return out
}

//
// Install
//

type host struct {
	t   *tenant.Tenant
	rt  Runtime
	tr  *tracker.Tracker
	log *zap.Logger
}

func (h *host) Tenant() *tenant.Tenant { return h.t }
func (h *host) Logger() *zap.Logger    { return h.log }

func (h *host) Emit(ev tracker.Event) (int64, error) {
	ev.Tenant = h.t
	if ev.ID == 0 {
		ev.ID = tenant.NextID()
	}
	return ev.ID, h.tr.Handle(ev)
}

func (h *host) Buffer(kind dynreg.Kind, reg any) error {
	return h.rt.BufferDynamicRegistration(h.t, kind, reg)
}

// Install connects one tenant per component in cs and runs Init.  A
// component whose Init fails is disconnected again; the others stay
// installed.  It returns the tenants that were installed.
func Install(rt Runtime, tr *tracker.Tracker, log *zap.Logger, cs ...Component) ([]*tenant.Tenant, error) {
	if log == nil {
		log = zap.L()
	}

	var (
		installed []*tenant.Tenant
		errs      error
	)
	for _, c := range cs {
		t := tenant.New(tenant.NextID(), c.Name())
		rt.Connect(t)

		h := &host{t: t, rt: rt, tr: tr, log: log.With(zap.String("component", c.Name()))}
		if err := c.Init(h); err != nil {
			rt.Disconnect(t)
			errs = multierr.Append(errs, fmt.Errorf("component %s: %w", c.Name(), err))
			continue
		}
		installed = append(installed, t)
		log.Info("component installed", zap.Stringer("tenant", t))
	}
	return installed, errs
}

// Uninstall disconnects the given tenants.  Pending dynamic
// registrations of a disconnected tenant are dropped at the next drain.
func Uninstall(rt Runtime, ts []*tenant.Tenant) {
	for _, t := range ts {
		rt.Disconnect(t)
	}
}
