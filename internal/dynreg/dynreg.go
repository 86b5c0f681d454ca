// internal/dynreg/dynreg.go
//
// Dynamic registration buffer.
//
// Context
// -------
// Initializers run before the serving container is ready, so servlets,
// filters, and listeners they register cannot be installed right away.  The
// buffer queues them, tagged with the registering tenant, and hands them to
// that tenant's container view once the container reports that it has
// initialized.
//
// Workflow
// --------
//  1. Initializers call Add while the container starts.
//  2. The container fires ContextInitialized; RegisteringListener calls
//     Drain.
//  3. Drain installs listeners, then servlets, then filters.  A tenant
//     without a view is skipped; the registration is dropped and counted.
//  4. Every queue is cleared.  Registrations added later wait for the next
//     cold start.
//
// Notes
// -----
//   - Servlets are keyed by name.  Re-adding a name replaces the queued
//     servlet but keeps its original position.
//   - Errors returned by a view never abort the drain.  They are combined
//     with multierr, logged, and returned to the caller.
//   - Oxford commas, two spaces after periods.
package dynreg

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/metrics"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
)

// Kind selects the queue a registration goes to.
type Kind int

const (
	KindServlet Kind = iota + 1
	KindFilter
	KindListener
)

func (k Kind) String() string {
	switch k {
	case KindServlet:
		return "servlet"
	case KindFilter:
		return "filter"
	case KindListener:
		return "listener"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrKindMismatch is returned by Add when the registration does not match
// the requested kind.
var ErrKindMismatch = errors.New("dynreg: registration does not match kind")

// ContainerView is the tenant-facing side of the serving container.
type ContainerView interface {
	RegisterServlet(*model.ServletModel) error
	RegisterFilter(*model.FilterModel) error
	RegisterListener(*model.ListenerModel) error
}

// Lookup returns the container view of a tenant, or nil when the tenant is
// gone.
type Lookup func(*tenant.Tenant) ContainerView

// Report summarizes one drain.
type Report struct {
	Registered int
	Dropped    int
	Failed     int
}

// Buffer is safe for concurrent use.
type Buffer struct {
	log *zap.Logger

	mu        sync.Mutex
	listeners []*model.ListenerModel
	servlets  []*model.ServletModel
	byName    map[string]int
	filters   []*model.FilterModel
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Buffer) { b.log = l }
}

// New returns an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{log: zap.L(), byName: map[string]int{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues reg for t.  The registration is marked dynamic and tagged
// with t, so it orders positionally once installed.
func (b *Buffer) Add(t *tenant.Tenant, kind Kind, reg any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case KindServlet:
		s, ok := reg.(*model.ServletModel)
		if !ok || s == nil {
			return fmt.Errorf("%w: %s got %T", ErrKindMismatch, kind, reg)
		}
		s.Tenant, s.Dynamic = t, true
		if i, dup := b.byName[s.Name]; dup {
			b.log.Debug("dynamic servlet replaced", zap.String("servlet", s.Name))
			b.servlets[i] = s
			return nil
		}
		b.byName[s.Name] = len(b.servlets)
		b.servlets = append(b.servlets, s)
	case KindFilter:
		f, ok := reg.(*model.FilterModel)
		if !ok || f == nil {
			return fmt.Errorf("%w: %s got %T", ErrKindMismatch, kind, reg)
		}
		f.Tenant, f.Dynamic = t, true
		b.filters = append(b.filters, f)
	case KindListener:
		l, ok := reg.(*model.ListenerModel)
		if !ok || l == nil {
			return fmt.Errorf("%w: %s got %T", ErrKindMismatch, kind, reg)
		}
		l.Tenant, l.Dynamic = t, true
		b.listeners = append(b.listeners, l)
	default:
		return fmt.Errorf("%w: unknown %s", ErrKindMismatch, kind)
	}
	return nil
}

// Pending reports how many registrations are queued.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners) + len(b.servlets) + len(b.filters)
}

// Drain installs every queued registration through lookup and clears the
// queues.  Views are called without the buffer lock held, so a view may
// Add again; such registrations stay queued for the next drain.
func (b *Buffer) Drain(lookup Lookup) (Report, error) {
	b.mu.Lock()
	listeners, servlets, filters := b.listeners, b.servlets, b.filters
	b.listeners, b.servlets, b.filters = nil, nil, nil
	b.byName = map[string]int{}
	b.mu.Unlock()

	var (
		rep  Report
		errs error
	)
	install := func(kind Kind, t *tenant.Tenant, name string, register func(ContainerView) error) {
		view := lookup(t)
		if view == nil {
			rep.Dropped++
			metrics.DynamicDroppedTotal.WithLabelValues(kind.String()).Inc()
			return
		}
		if err := register(view); err != nil {
			rep.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s %q for tenant %s: %w", kind, name, t, err))
			return
		}
		rep.Registered++
		metrics.DynamicDrainedTotal.WithLabelValues(kind.String()).Inc()
	}

	for _, l := range listeners {
		install(KindListener, l.Tenant, fmt.Sprintf("%T", l.Listener), func(v ContainerView) error {
			return v.RegisterListener(l)
		})
	}
	for _, s := range servlets {
		install(KindServlet, s.Tenant, s.Name, func(v ContainerView) error {
			return v.RegisterServlet(s)
		})
	}
	for _, f := range filters {
		install(KindFilter, f.Tenant, f.Name, func(v ContainerView) error {
			return v.RegisterFilter(f)
		})
	}

	if errs != nil {
		b.log.Error("dynamic registrations failed", zap.Error(errs),
			zap.Int("failed", rep.Failed))
	}
	b.log.Debug("dynamic registrations drained",
		zap.Int("registered", rep.Registered), zap.Int("dropped", rep.Dropped))
	return rep, errs
}

// RegisteringListener drains a buffer when the serving container reports
// that it has initialized.
type RegisteringListener struct {
	Buffer *Buffer
	Lookup Lookup
}

var _ listener.ContextListener = (*RegisteringListener)(nil)

// ContextInitialized drains the buffer.  Errors are already logged by
// Drain.
func (r *RegisteringListener) ContextInitialized(listener.ContextEvent) {
	_, _ = r.Buffer.Drain(r.Lookup)
}

// ContextDestroyed is a no-op.
func (r *RegisteringListener) ContextDestroyed(listener.ContextEvent) {}
