// internal/whiteboard/whiteboard.go
//
// Whiteboard runtime facade.
//
// Context
// -------
// The Whiteboard is what the hosting container talks to.  It wires the
// context registry, the resolver, one serving context per active path, the
// per-path dynamic registration buffers, and the chi element sink into one
// object with the operations a container needs:
//
//   - RegisterContext, UnregisterContext, ResolveWinningContext,
//   - Acquire, Release, With, Promote,
//   - AddListener, RemoveListener, MaterializeListeners,
//   - BufferDynamicRegistration, DrainDynamicRegistrations,
//   - Start, Stop.
//
// Workflow
// --------
//  1. Tenants Connect and register context models.  The first active model
//     at a path creates the serving context for that path.
//  2. Start brings every serving context up.  Each context first drains
//     its dynamic registration buffer (tenants that disconnected meanwhile
//     lose their registrations), then runs its listeners.
//  3. Contexts registered while running start right away.  A path whose
//     last active model is withdrawn is stopped and dropped.
//  4. Stop tears everything down in reverse path order and releases the
//     leases taken for lifecycle events.
//
// Notes
// -----
//   - Listener, servlet, and filter registrations name their target
//     context.  The active model with that name decides the path.
//   - Oxford commas, two spaces after periods.
package whiteboard

import (
	"fmt"
	"net/http"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/dynreg"
	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/middleware"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/registry"
	"github.com/yanizio/whiteboard/internal/resolver"
	"github.com/yanizio/whiteboard/internal/serving"
	"github.com/yanizio/whiteboard/internal/session"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// runtimeTenant stands in for the caller when a shared context has to be
// resolved for a lifecycle event.
var runtimeTenant = tenant.New(0, "whiteboard")

// Whiteboard is safe for concurrent use.
type Whiteboard struct {
	log      *zap.Logger
	contexts *registry.Registry
	resolver *resolver.Resolver
	mux      *serving.Mux
	prefix   string

	source      resolver.Dereferencer
	withDefault bool

	mu        sync.Mutex
	running   bool
	serving   map[string]*serving.Context
	buffers   map[string]*dynreg.Buffer
	leases    map[string]*resolver.Lease
	connected map[int64]*tenant.Tenant
}

// Option configures a Whiteboard.
type Option func(*Whiteboard)

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option { return func(w *Whiteboard) { w.log = l } }

// WithSource sets the Dereferencer for reference-resolved contexts.
func WithSource(s resolver.Dereferencer) Option { return func(w *Whiteboard) { w.source = s } }

// WithSessionPrefix sets the reserved session attribute prefix.
func WithSessionPrefix(p string) Option { return func(w *Whiteboard) { w.prefix = p } }

// WithoutDefault skips the default context.
func WithoutDefault() Option { return func(w *Whiteboard) { w.withDefault = false } }

// New returns a stopped Whiteboard.
func New(opts ...Option) *Whiteboard {
	w := &Whiteboard{
		log:         zap.L(),
		prefix:      listener.DefaultReservedPrefix,
		withDefault: true,
		serving:     map[string]*serving.Context{},
		buffers:     map[string]*dynreg.Buffer{},
		leases:      map[string]*resolver.Lease{},
		connected:   map[int64]*tenant.Tenant{},
	}
	for _, opt := range opts {
		opt(w)
	}

	w.resolver = resolver.New(w.source, resolver.WithLogger(w.log))
	w.mux = serving.NewMux(w.log, serving.WithGuard(w.guard))

	regOpts := []registry.Option{
		registry.WithLogger(w.log),
		registry.WithForgetHook(w.resolver.Forget),
	}
	if !w.withDefault {
		regOpts = append(regOpts, registry.WithoutDefault())
	}
	w.contexts = registry.New(regOpts...)
	w.sync()
	return w
}

//
// Accessors
//

// Contexts exposes the context registry.
func (w *Whiteboard) Contexts() *registry.Registry { return w.contexts }

// Resolver exposes the context resolver.
func (w *Whiteboard) Resolver() *resolver.Resolver { return w.resolver }

// Handler returns the request router that serves installed servlets.
func (w *Whiteboard) Handler() http.Handler { return w.mux }

// Mux returns the element sink.
func (w *Whiteboard) Mux() *serving.Mux { return w.mux }

// Running reports whether Start has been called without a matching Stop.
func (w *Whiteboard) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// ServingContext returns the serving context for path, or nil.
func (w *Whiteboard) ServingContext(path string) *serving.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.serving[model.NormalizePath(path)]
}

// ServingPaths lists the paths with a serving context, most specific
// first.
func (w *Whiteboard) ServingPaths() []string {
	paths := w.contexts.Paths()
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.DeleteFunc(paths, func(p string) bool { return w.serving[p] == nil })
}

//
// Tenants
//

// Connect marks t as able to receive dynamic registrations.
func (w *Whiteboard) Connect(t *tenant.Tenant) {
	if t == nil {
		return
	}
	w.mu.Lock()
	w.connected[t.ID] = t
	w.mu.Unlock()
}

// Disconnect marks t as gone.  Its pending dynamic registrations are
// dropped at the next drain.
func (w *Whiteboard) Disconnect(t *tenant.Tenant) {
	w.mu.Lock()
	delete(w.connected, tenant.Key(t))
	w.mu.Unlock()
}

// Connected reports whether t is connected.
func (w *Whiteboard) Connected(t *tenant.Tenant) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.connected[tenant.Key(t)]
	return ok
}

//
// Contexts
//

// RegisterContext registers m and, for a new path, creates its serving
// context.  It returns false when the registry rejects m.
func (w *Whiteboard) RegisterContext(m *model.ContextModel) bool {
	if !w.contexts.RegisterContext(m) {
		return false
	}
	w.sync()
	return true
}

// UnregisterContext withdraws the model registered under id.  A path left
// without an active model loses its serving context.
func (w *Whiteboard) UnregisterContext(id int64) bool {
	if !w.contexts.UnregisterContext(id) {
		return false
	}
	w.sync()
	return true
}

// ResolveWinningContext returns the model that serves path, or nil.
func (w *Whiteboard) ResolveWinningContext(path string) *model.ContextModel {
	return w.contexts.ResolveWinningContext(path)
}

// ResolveFor is ResolveWinningContext for a virtual host.
func (w *Whiteboard) ResolveFor(host, path string) *model.ContextModel {
	return w.contexts.ResolveFor(host, path)
}

// Acquire borrows m's instance for caller.
func (w *Whiteboard) Acquire(m *model.ContextModel, caller *tenant.Tenant) (*resolver.Lease, error) {
	return w.resolver.Acquire(m, caller)
}

// Release returns a lease.
func (w *Whiteboard) Release(l *resolver.Lease) { w.resolver.Release(l) }

// With runs fn with m's instance and releases it afterwards.
func (w *Whiteboard) With(m *model.ContextModel, caller *tenant.Tenant, fn func(webctx.Context) error) error {
	return w.resolver.With(m, caller, fn)
}

// Promote tries to turn a supplier model into a singleton.
func (w *Whiteboard) Promote(m *model.ContextModel, caller *tenant.Tenant) (bool, error) {
	if caller == nil {
		caller = runtimeTenant
	}
	return w.resolver.Promote(m, caller)
}

//
// Listeners
//

// AddListener adds l to the serving context selected by m.  A nil model
// adds a positional listener to the default context.
func (w *Whiteboard) AddListener(m *model.ListenerModel, l any) error {
	sc, err := w.target(targetName(m))
	if err != nil {
		return err
	}
	sc.AddListener(m, l)
	return nil
}

// RemoveListener removes l from the serving context selected by m.
func (w *Whiteboard) RemoveListener(m *model.ListenerModel, l any) error {
	sc, err := w.target(targetName(m))
	if err != nil {
		return err
	}
	sc.RemoveListener(m, l)
	return nil
}

// MaterializeListeners returns the ordered listener sequence of the
// serving context at path.
func (w *Whiteboard) MaterializeListeners(path string) ([]any, error) {
	sc := w.ServingContext(path)
	if sc == nil {
		return nil, fmt.Errorf("%w: no serving context at %s", ErrUnknownContext, model.NormalizePath(path))
	}
	return sc.Listeners().Materialize(), nil
}

//
// Servlets and filters
//

// AddServlet installs s in the context it names.
func (w *Whiteboard) AddServlet(s *model.ServletModel) error {
	sc, err := w.target(s.TargetContext())
	if err != nil {
		return err
	}
	return w.mux.AddServlet(sc.Path(), s)
}

// RemoveServlet uninstalls s.
func (w *Whiteboard) RemoveServlet(s *model.ServletModel) bool {
	sc, err := w.target(s.TargetContext())
	if err != nil {
		return false
	}
	return w.mux.RemoveServlet(sc.Path(), s)
}

// AddFilter installs f in the context it names.
func (w *Whiteboard) AddFilter(f *model.FilterModel) error {
	sc, err := w.target(f.TargetContext())
	if err != nil {
		return err
	}
	return w.mux.AddFilter(sc.Path(), f)
}

// RemoveFilter uninstalls f.
func (w *Whiteboard) RemoveFilter(f *model.FilterModel) bool {
	sc, err := w.target(f.TargetContext())
	if err != nil {
		return false
	}
	return w.mux.RemoveFilter(sc.Path(), f)
}

//
// Dynamic registrations
//

// BufferDynamicRegistration queues reg for the context it names.  The
// registration is installed when that context next starts.
func (w *Whiteboard) BufferDynamicRegistration(t *tenant.Tenant, kind dynreg.Kind, reg any) error {
	var name string
	switch r := reg.(type) {
	case *model.ServletModel:
		name = r.TargetContext()
	case *model.FilterModel:
		name = r.TargetContext()
	case *model.ListenerModel:
		name = r.TargetContext()
	default:
		return fmt.Errorf("%w: %T", dynreg.ErrKindMismatch, reg)
	}
	sc, err := w.target(name)
	if err != nil {
		return err
	}
	w.mu.Lock()
	buf := w.buffers[sc.Path()]
	w.mu.Unlock()
	return buf.Add(t, kind, reg)
}

// DrainDynamicRegistrations drains every buffer through lookup.  The
// returned report sums all buffers.
func (w *Whiteboard) DrainDynamicRegistrations(lookup dynreg.Lookup) (dynreg.Report, error) {
	w.mu.Lock()
	bufs := make([]*dynreg.Buffer, 0, len(w.buffers))
	for _, b := range w.buffers {
		bufs = append(bufs, b)
	}
	w.mu.Unlock()

	var (
		total dynreg.Report
		errs  error
	)
	for _, b := range bufs {
		rep, err := b.Drain(lookup)
		total.Registered += rep.Registered
		total.Dropped += rep.Dropped
		total.Failed += rep.Failed
		errs = multierr.Append(errs, err)
	}
	return total, errs
}

//
// Lifecycle
//

// Start brings every serving context up, most specific path first.
func (w *Whiteboard) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	for _, p := range w.ServingPaths() {
		w.startServing(p)
	}
	w.log.Info("whiteboard started")
}

// Stop tears every serving context down, least specific path first.
func (w *Whiteboard) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	paths := w.ServingPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		w.stopServing(paths[i])
	}
	w.log.Info("whiteboard stopped")
}

//
// internals
//

// guard binds servlet requests to their winning context on behalf of the
// registering tenant, and hands the session store of the serving context
// at contextPath to the filters and the servlet.
func (w *Whiteboard) guard(contextPath string, s *model.ServletModel, h http.Handler) http.Handler {
	caller := s.Tenant
	if caller == nil {
		caller = runtimeTenant
	}
	withSessions := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if sc := w.ServingContext(contextPath); sc != nil {
			r = r.WithContext(session.NewContext(r.Context(), sc.Sessions()))
		}
		h.ServeHTTP(rw, r)
	})
	return middleware.Guard(w, caller, w.log)(withSessions)
}

func targetName(m *model.ListenerModel) string {
	if m == nil {
		return model.DefaultContextName
	}
	return m.TargetContext()
}

// target returns the serving context of the active model named name.
func (w *Whiteboard) target(name string) (*serving.Context, error) {
	m := w.contexts.Lookup(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContext, name)
	}
	w.mu.Lock()
	sc := w.serving[m.Path()]
	w.mu.Unlock()
	if sc == nil {
		return nil, fmt.Errorf("%w: %q has no serving context", ErrUnknownContext, name)
	}
	return sc, nil
}

// sync matches serving contexts to the active paths.  Shadowing can move
// a name to another path, so every change rechecks all of them.
func (w *Whiteboard) sync() {
	active := w.contexts.Paths()

	w.mu.Lock()
	var stale []string
	for p := range w.serving {
		if !slices.Contains(active, p) {
			stale = append(stale, p)
		}
	}
	w.mu.Unlock()

	for _, p := range stale {
		w.dropServing(p)
	}
	for _, p := range active {
		w.ensureServing(p)
		w.rebind(p)
	}
}

func (w *Whiteboard) ensureServing(p string) {
	w.mu.Lock()
	if _, ok := w.serving[p]; ok {
		w.mu.Unlock()
		return
	}
	sc := serving.New(p,
		serving.WithSink(w.mux),
		serving.WithLogger(w.log),
		serving.WithListenerOptions(listener.WithReservedPrefix(w.prefix), listener.WithLogger(w.log)),
	)
	buf := dynreg.New(dynreg.WithLogger(w.log))
	sc.AddBootstrap(&dynreg.RegisteringListener{Buffer: buf, Lookup: w.viewFor(sc)})
	w.serving[p] = sc
	w.buffers[p] = buf
	running := w.running
	w.mu.Unlock()

	if running {
		w.startServing(p)
	}
}

// viewFor returns the lookup used when sc drains its buffer.
func (w *Whiteboard) viewFor(sc *serving.Context) dynreg.Lookup {
	return func(t *tenant.Tenant) dynreg.ContainerView {
		if t != nil && !w.Connected(t) {
			return nil
		}
		return sc
	}
}

func (w *Whiteboard) dropServing(p string) {
	w.stopServing(p)
	w.mu.Lock()
	delete(w.serving, p)
	delete(w.buffers, p)
	w.mu.Unlock()
}

func (w *Whiteboard) startServing(p string) {
	w.mu.Lock()
	sc := w.serving[p]
	w.mu.Unlock()
	if sc == nil || sc.Running() {
		return
	}

	var inst webctx.Context
	if m := w.contexts.Governing(p); m != nil {
		caller := m.Owner()
		if caller == nil {
			caller = runtimeTenant
		}
		lease, err := w.resolver.Acquire(m, caller)
		if err != nil {
			w.log.Warn("governing context unavailable for lifecycle events",
				zap.String("path", p), zap.Error(err))
		} else {
			inst = lease.Context
			w.mu.Lock()
			w.leases[p] = lease
			w.mu.Unlock()
		}
	}
	sc.Start(inst)
}

// rebind follows a change of the model governing a running path.  The
// new instance is acquired before the old lease is returned.
func (w *Whiteboard) rebind(p string) {
	w.mu.Lock()
	sc, prev := w.serving[p], w.leases[p]
	w.mu.Unlock()
	if sc == nil || !sc.Running() {
		return
	}

	m := w.contexts.Governing(p)
	if prev != nil && prev.Model() == m {
		return
	}
	if prev == nil && m == nil {
		return
	}

	var next *resolver.Lease
	if m != nil {
		caller := m.Owner()
		if caller == nil {
			caller = runtimeTenant
		}
		l, err := w.resolver.Acquire(m, caller)
		if err != nil {
			w.log.Warn("governing context unavailable for lifecycle events",
				zap.String("path", p), zap.Error(err))
		} else {
			next = l
		}
	}

	w.mu.Lock()
	if next != nil {
		w.leases[p] = next
	} else {
		delete(w.leases, p)
	}
	w.mu.Unlock()

	var inst webctx.Context
	if next != nil {
		inst = next.Context
	}
	sc.Rebind(inst)
	if prev != nil {
		prev.Release()
	}
	w.log.Debug("serving context rebound", zap.String("path", p), zap.Stringer("model", m))
}

func (w *Whiteboard) stopServing(p string) {
	w.mu.Lock()
	sc := w.serving[p]
	lease := w.leases[p]
	delete(w.leases, p)
	w.mu.Unlock()

	if sc != nil {
		sc.Stop()
	}
	if lease != nil {
		lease.Release()
	}
}
