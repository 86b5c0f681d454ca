// internal/serving/context.go
//
// Physical serving context.
//
// Context
// -------
// Every distinct path with an active context model gets one serving
// context.  It owns the listener registry and the session store for that
// path and drives the listener lifecycle when the container starts or
// stops.  Servlets and
// filters are not kept here; they go to an ElementSink, which installs
// them into the real request router.
//
// Workflow
// --------
//   - Start runs bootstrap listeners first (the dynamic registration drain
//     lives there), then materializes the listener sequence and fires
//     ContextInitialized in order.
//   - Listeners added or removed while running join or leave the session
//     sequence immediately.  ContextDestroyed goes to the listeners that
//     saw ContextInitialized.
//   - Stop invalidates every session, fires ContextDestroyed in reverse
//     order, then runs the bootstrap listeners, and finally clears
//     positional listeners so the next run starts from ranked
//     registrations only.
//
// Notes
// -----
//   - A Context is a dynreg.ContainerView, so dynamic registrations drained
//     into it land in the positional listener bucket or in the sink.
//   - Oxford commas, two spaces after periods.
package serving

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/dynreg"
	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/session"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// ElementSink installs servlets and filters for a context path.
type ElementSink interface {
	AddServlet(contextPath string, s *model.ServletModel) error
	RemoveServlet(contextPath string, s *model.ServletModel) bool
	AddFilter(contextPath string, f *model.FilterModel) error
	RemoveFilter(contextPath string, f *model.FilterModel) bool
}

// Context is one physical serving context.
type Context struct {
	path      string
	listeners *listener.Registry
	sessions  *session.Store
	sink      ElementSink
	log       *zap.Logger

	mu        sync.Mutex
	bootstrap []listener.ContextListener
	running   []any // current sequence, refreshed on listener changes
	initial   []any // sequence ContextInitialized was fired on
	started   bool
	instance  webctx.Context
}

var _ dynreg.ContainerView = (*Context)(nil)

// Option configures a Context.
type Option func(*Context)

// WithSink sets where servlets and filters are installed.
func WithSink(s ElementSink) Option { return func(c *Context) { c.sink = s } }

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option { return func(c *Context) { c.log = l } }

// WithListenerOptions configures the listener registry.
func WithListenerOptions(opts ...listener.Option) Option {
	return func(c *Context) { c.listeners = listener.NewRegistry(opts...) }
}

// New returns a stopped serving context for path.
func New(path string, opts ...Option) *Context {
	c := &Context{
		path: model.NormalizePath(path),
		log:  zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.listeners == nil {
		c.listeners = listener.NewRegistry(listener.WithLogger(c.log))
	}
	c.sessions = session.NewStore(c.Sequence,
		session.WithLogger(c.log), session.WithCookiePath(c.path))
	return c
}

// Path returns the mount path.
func (c *Context) Path() string { return c.path }

// Listeners exposes the listener registry.
func (c *Context) Listeners() *listener.Registry { return c.listeners }

// Sessions exposes the session store.  Its events reach the listeners of
// the current run.
func (c *Context) Sessions() *session.Store { return c.sessions }

// AddBootstrap registers a listener that runs before the ordered sequence.
func (c *Context) AddBootstrap(l listener.ContextListener) {
	c.mu.Lock()
	c.bootstrap = append(c.bootstrap, l)
	c.mu.Unlock()
}

// AddListener adds a listener registration.  A nil model adds l as a
// positional listener.  On a running context session listeners take
// effect at once; lifecycle callbacks wait for the next start.
func (c *Context) AddListener(m *model.ListenerModel, l any) {
	c.listeners.Add(m, l)
	c.refresh()
}

// RemoveListener removes a listener registration.
func (c *Context) RemoveListener(m *model.ListenerModel, l any) {
	c.listeners.Remove(m, l)
	c.refresh()
}

// refresh re-materializes the sequence of a running context.
func (c *Context) refresh() {
	if !c.Running() {
		return
	}
	seq := c.listeners.Materialize()
	c.mu.Lock()
	if c.started {
		c.running = seq
	}
	c.mu.Unlock()
}

// Running reports whether the context has been started.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Sequence returns the listener sequence of the current run, or nil when
// stopped.
func (c *Context) Sequence() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.running)
}

// Instance returns the governing context instance of the current run.
func (c *Context) Instance() webctx.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

// Rebind swaps the governing instance of a running context.  Later
// ContextDestroyed events carry inst.  It returns false when stopped.
func (c *Context) Rebind(inst webctx.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return false
	}
	c.instance = inst
	return true
}

// Start runs the initialization sequence with inst as the governing
// context instance.  It returns false when already running.
func (c *Context) Start(inst webctx.Context) bool {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return false
	}
	c.started = true
	c.instance = inst
	boot := slices.Clone(c.bootstrap)
	c.mu.Unlock()

	ev := listener.ContextEvent{Path: c.path, Context: inst}
	for _, l := range boot {
		l.ContextInitialized(ev)
	}

	seq := c.listeners.Materialize()
	c.mu.Lock()
	c.running, c.initial = seq, seq
	c.mu.Unlock()

	lifecycle := listener.Lifecycle(seq)
	for _, l := range lifecycle {
		l.ContextInitialized(ev)
	}
	c.log.Info("serving context started",
		zap.String("path", c.path), zap.Int("listeners", len(seq)))
	return true
}

// Stop runs the destruction sequence.  It returns false when not running.
func (c *Context) Stop() bool {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return false
	}
	seq, initial, inst := c.running, c.initial, c.instance
	boot := slices.Clone(c.bootstrap)
	c.started, c.running, c.initial, c.instance = false, nil, nil, nil
	c.mu.Unlock()

	if n := c.sessions.Close(seq); n > 0 {
		c.log.Debug("sessions invalidated", zap.String("path", c.path), zap.Int("sessions", n))
	}

	ev := listener.ContextEvent{Path: c.path, Context: inst}
	lifecycle := listener.Lifecycle(initial)
	for i := len(lifecycle) - 1; i >= 0; i-- {
		lifecycle[i].ContextDestroyed(ev)
	}
	for i := len(boot) - 1; i >= 0; i-- {
		boot[i].ContextDestroyed(ev)
	}
	c.listeners.ClearPositional()
	c.log.Info("serving context stopped", zap.String("path", c.path))
	return true
}

//
// dynreg.ContainerView
//

// RegisterListener adds a drained dynamic listener to the positional
// bucket.
func (c *Context) RegisterListener(m *model.ListenerModel) error {
	c.AddListener(m, m.Listener)
	return nil
}

// RegisterServlet forwards a drained servlet to the sink.
func (c *Context) RegisterServlet(s *model.ServletModel) error {
	if c.sink == nil {
		return ErrNoSink
	}
	return c.sink.AddServlet(c.path, s)
}

// RegisterFilter forwards a drained filter to the sink.
func (c *Context) RegisterFilter(f *model.FilterModel) error {
	if c.sink == nil {
		return ErrNoSink
	}
	return c.sink.AddFilter(c.path, f)
}
