// internal/resolver/resolver.go
//
// Context resolver: acquire and release live context instances.
//
// Context
// -------
// A ContextModel knows how its instance is obtained but not for whom.
// The Resolver binds a model to a calling tenant:
//
//   - direct models hand out the stored instance; nothing to track,
//   - supplier models call the supplier on every acquire, because the
//     supplier may bind a fresh instance to the caller's identity,
//   - reference models dereference an external handle within the caller's
//     scope through a Dereferencer.  The dereferenced instance is cached
//     per (model, tenant) while leases are outstanding and the handle is
//     returned to the source when the last lease is released.
//
// Every Acquire returns a *Lease which must be released exactly once,
// on every exit path.  With wraps that contract for callers that can run
// their work inside a closure.
//
// Workflow
// --------
//  1. whiteboard wires one Resolver to the framework's Dereferencer.
//  2. request goroutines call Acquire / Release concurrently.
//  3. the registry calls Forget when a registration is withdrawn so no
//     instance outlives it.
//
// Notes
// -----
//   - Supplier calls run outside every lock; they share no state.
//   - Oxford commas, two spaces after periods.
package resolver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/whiteboard/internal/metrics"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// Dereferencer obtains and returns external context handles on behalf of a
// tenant.  Every successful Dereference is paired with one Release.
type Dereferencer interface {
	Dereference(caller *tenant.Tenant, h model.Handle) (any, error)
	Release(caller *tenant.Tenant, h model.Handle)
}

// Lease is one borrowed context instance.
type Lease struct {
	ID      uuid.UUID
	Context webctx.Context

	model    *model.ContextModel
	caller   *tenant.Tenant
	resolver *Resolver
	entry    *entry // nil for direct and supplier leases
	released atomic.Bool
}

func (l *Lease) Model() *model.ContextModel { return l.model }
func (l *Lease) Caller() *tenant.Tenant     { return l.caller }

// Release returns the lease to its resolver.  Safe to call more than once.
func (l *Lease) Release() { l.resolver.Release(l) }

type leaseKey struct {
	model  *model.ContextModel
	tenant int64
}

type entry struct {
	ctx       webctx.Context
	handle    model.Handle
	caller    *tenant.Tenant
	refs      int
	forgotten bool
}

// Resolver is safe for concurrent use.  Zero value is unusable; construct
// with New.
type Resolver struct {
	source Dereferencer
	log    *zap.Logger

	mu      sync.Mutex
	entries map[leaseKey]*entry

	promotions singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.  Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns a Resolver that dereferences handles through source.  A nil
// source makes every reference model unresolvable.
func New(source Dereferencer, opts ...Option) *Resolver {
	r := &Resolver{
		source:  source,
		log:     zap.L(),
		entries: map[leaseKey]*entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("resolver")
	return r
}

//
// Acquire / Release
//

// Acquire returns a lease on m's context instance bound to caller.
func (r *Resolver) Acquire(m *model.ContextModel, caller *tenant.Tenant) (*Lease, error) {
	l, err := r.acquire(m, caller)
	if err != nil {
		metrics.AcquireErrorsTotal.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}
	return l, nil
}

func (r *Resolver) acquire(m *model.ContextModel, caller *tenant.Tenant) (*Lease, error) {
	res := m.Resolution()
	if res == model.ResolutionDirect {
		metrics.AcquireTotal.WithLabelValues(res.String()).Inc()
		return r.newLease(m, caller, m.Instance(), nil), nil
	}
	if res == model.ResolutionNone {
		return nil, fmt.Errorf("%w: no context instance, supplier, or reference configured for %s",
			model.ErrUnresolvedContext, m)
	}
	if caller == nil {
		return nil, fmt.Errorf("%w: cannot resolve %s without a calling tenant",
			model.ErrMissingCallerScope, m)
	}

	metrics.AcquireTotal.WithLabelValues(res.String()).Inc()
	switch res {
	case model.ResolutionSupplier:
		// Promotion may have cleared the supplier since Resolution() ran.
		s := m.Supplier()
		if s == nil {
			if inst := m.Instance(); inst != nil {
				return r.newLease(m, caller, inst, nil), nil
			}
			return nil, fmt.Errorf("%w: supplier withdrawn for %s", model.ErrUnresolvedContext, m)
		}
		ctx, err := s(caller, m.Name())
		if err != nil {
			return nil, fmt.Errorf("supply context %q for %s: %w", m.Name(), caller, err)
		}
		if ctx == nil {
			return nil, fmt.Errorf("%w: supplier returned no context for %s", model.ErrUnresolvedContext, m)
		}
		return r.newLease(m, caller, ctx, nil), nil
	default:
		return r.acquireReference(m, caller)
	}
}

func (r *Resolver) acquireReference(m *model.ContextModel, caller *tenant.Tenant) (*Lease, error) {
	h := m.Reference()
	if h == nil || r.source == nil {
		return nil, fmt.Errorf("%w: no handle source for %s", model.ErrUnresolvedContext, m)
	}
	k := leaseKey{model: m, tenant: tenant.Key(caller)}

	r.mu.Lock()
	if e, ok := r.entries[k]; ok {
		e.refs++
		r.mu.Unlock()
		return r.newLease(m, caller, e.ctx, e), nil
	}
	r.mu.Unlock()

	r.log.Debug("dereferencing context handle",
		zap.Stringer("handle", h), zap.Stringer("tenant", caller))
	obj, err := r.source.Dereference(caller, h)
	if err != nil {
		return nil, fmt.Errorf("dereference %s for %s: %w", h, caller, err)
	}

	var ctx webctx.Context
	switch c := obj.(type) {
	case webctx.Context:
		ctx = c
	case webctx.Helper:
		ctx = webctx.Wrap(caller, c, m.Name())
	default:
		r.source.Release(caller, h)
		return nil, fmt.Errorf("%w: %T behind %s", model.ErrUnsupportedContextType, obj, h)
	}

	r.mu.Lock()
	if e, ok := r.entries[k]; ok {
		// Another goroutine won; keep its instance and return ours.
		e.refs++
		r.mu.Unlock()
		r.source.Release(caller, h)
		return r.newLease(m, caller, e.ctx, e), nil
	}
	e := &entry{ctx: ctx, handle: h, caller: caller, refs: 1}
	r.entries[k] = e
	r.mu.Unlock()

	metrics.LeasesOutstanding.Inc()
	return r.newLease(m, caller, ctx, e), nil
}

func (r *Resolver) newLease(m *model.ContextModel, caller *tenant.Tenant, ctx webctx.Context, e *entry) *Lease {
	return &Lease{
		ID:       uuid.New(),
		Context:  ctx,
		model:    m,
		caller:   caller,
		resolver: r,
		entry:    e,
	}
}

// Release gives a lease back.  Direct and supplier leases need no work;
// reference leases return the handle to its source once the last lease
// for that (model, tenant) pair is released.  Releasing twice is a no-op.
func (r *Resolver) Release(l *Lease) {
	if l == nil || !l.released.CompareAndSwap(false, true) || l.entry == nil {
		return
	}
	e := l.entry

	r.mu.Lock()
	if e.forgotten || e.refs == 0 {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, leaseKey{model: l.model, tenant: tenant.Key(e.caller)})
	r.mu.Unlock()

	r.source.Release(e.caller, e.handle)
	metrics.LeasesOutstanding.Dec()
}

// With acquires m for caller, runs fn, and releases on every exit path,
// panics included.
func (r *Resolver) With(m *model.ContextModel, caller *tenant.Tenant, fn func(webctx.Context) error) error {
	l, err := r.Acquire(m, caller)
	if err != nil {
		return err
	}
	defer r.Release(l)
	return fn(l.Context)
}

// Forget drops every cached instance of m and returns the handles to the
// source.  Leases still held become no-ops on release.
func (r *Resolver) Forget(m *model.ContextModel) {
	var dropped []*entry
	r.mu.Lock()
	for k, e := range r.entries {
		if k.model == m {
			e.forgotten = true
			delete(r.entries, k)
			dropped = append(dropped, e)
		}
	}
	r.mu.Unlock()

	for _, e := range dropped {
		r.source.Release(e.caller, e.handle)
		metrics.LeasesOutstanding.Dec()
	}
	if len(dropped) > 0 {
		r.log.Info("released context handles of withdrawn registration",
			zap.Int64("id", m.ID()), zap.Int("count", len(dropped)))
	}
}

// Outstanding reports how many (model, tenant) pairs hold a dereferenced
// handle.
func (r *Resolver) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrMissingCallerScope):
		return "missing_caller_scope"
	case errors.Is(err, model.ErrUnresolvedContext):
		return "unresolved"
	case errors.Is(err, model.ErrUnsupportedContextType):
		return "unsupported_type"
	default:
		return "source"
	}
}
