// internal/tracker/tracker.go
//
// Registration event tracker.
//
// Context
// -------
// The framework announces registrations as a stream of Events.  The
// Tracker turns each one into calls on the Runtime: contexts become
// models in the registry, listeners go to the serving context their model
// names, and servlets and filters go to the element sink.
//
// Workflow
// --------
//   - Created builds the model or element and installs it.
//   - Updated withdraws the previous registration with the same id and
//     installs the new one.  Context models memoize validation, so an
//     update always builds a fresh model.
//   - Removed withdraws the registration with that id.
//
// Singleton-scoped supplier contexts are promoted right after
// registration when promotion is enabled.  A failed promotion leaves the
// model supplier-resolved and is only logged.
//
// Notes
// -----
//   - Run stops when the channel closes or the context is done.  A failing
//     event never stops the loop.
//   - Oxford commas, two spaces after periods.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
)

var (
	ErrRejected       = errors.New("tracker: registration rejected")
	ErrMissingPayload = errors.New("tracker: event has no payload")
	ErrNotRegistered  = errors.New("tracker: no registration with that id")
	ErrUnknownEvent   = errors.New("tracker: unknown event kind or target")
)

// Runtime is the part of the whiteboard the tracker drives.
type Runtime interface {
	RegisterContext(*model.ContextModel) bool
	UnregisterContext(id int64) bool
	Promote(*model.ContextModel, *tenant.Tenant) (bool, error)

	AddListener(*model.ListenerModel, any) error
	RemoveListener(*model.ListenerModel, any) error
	AddServlet(*model.ServletModel) error
	RemoveServlet(*model.ServletModel) bool
	AddFilter(*model.FilterModel) error
	RemoveFilter(*model.FilterModel) bool
}

// Tracker is safe for concurrent use, though events for one registration
// are expected in order.
type Tracker struct {
	rt      Runtime
	log     *zap.Logger
	promote bool

	mu        sync.Mutex
	servlets  map[int64]*model.ServletModel
	filters   map[int64]*model.FilterModel
	listeners map[int64]*model.ListenerModel
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithPromotion toggles singleton promotion.  Enabled by default.
func WithPromotion(on bool) Option { return func(t *Tracker) { t.promote = on } }

// New returns a Tracker driving rt.
func New(rt Runtime, opts ...Option) *Tracker {
	t := &Tracker{
		rt:        rt,
		log:       zap.L(),
		promote:   true,
		servlets:  map[int64]*model.ServletModel{},
		filters:   map[int64]*model.FilterModel{},
		listeners: map[int64]*model.ListenerModel{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run applies events until ch closes or ctx is done.  It returns ctx.Err()
// in the latter case.
func (t *Tracker) Run(ctx context.Context, ch <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := t.Handle(ev); err != nil {
				t.log.Warn("registration event failed", zap.Stringer("event", ev), zap.Error(err))
			}
		}
	}
}

// Handle applies one event.
func (t *Tracker) Handle(ev Event) error {
	switch ev.Target {
	case TargetContext:
		return t.context(ev)
	case TargetServlet:
		return t.servlet(ev)
	case TargetFilter:
		return t.filter(ev)
	case TargetListener:
		return t.listener(ev)
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
}

//
// contexts
//

func (t *Tracker) context(ev Event) error {
	switch ev.Kind {
	case Removed:
		if !t.rt.UnregisterContext(ev.ID) {
			return fmt.Errorf("%w: context %d", ErrNotRegistered, ev.ID)
		}
		return nil
	case Updated:
		t.rt.UnregisterContext(ev.ID)
		fallthrough
	case Created:
		if ev.Context == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, ev)
		}
		m := BuildContext(ev)
		if !t.rt.RegisterContext(m) {
			return fmt.Errorf("%w: %s", ErrRejected, m)
		}
		if t.promote && ev.Context.Scope == ScopeSingleton && m.Resolution() == model.ResolutionSupplier {
			if _, err := t.rt.Promote(m, ev.Tenant); err != nil {
				t.log.Warn("singleton promotion failed", zap.Stringer("model", m), zap.Error(err))
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
}

// BuildContext turns a context event into a model.
func BuildContext(ev Event) *model.ContextModel {
	spec := ev.Context
	m := model.New(ev.Tenant, ev.Priority, ev.ID)
	m.SetName(spec.Name)
	m.SetPath(spec.Path)
	m.SetParameters(spec.Params)
	m.SetVirtualHosts(spec.VirtualHosts)
	m.SetShared(spec.Shared)
	switch {
	case spec.Instance != nil:
		m.SetInstance(spec.Instance)
	case spec.Supplier != nil:
		m.SetSupplier(spec.Supplier)
	case spec.Reference != nil:
		m.SetReference(spec.Reference)
	}
	return m
}

//
// elements
//

func (t *Tracker) servlet(ev Event) error {
	switch ev.Kind {
	case Removed, Updated:
		t.mu.Lock()
		prev := t.servlets[ev.ID]
		delete(t.servlets, ev.ID)
		t.mu.Unlock()
		if prev != nil {
			t.rt.RemoveServlet(prev)
		} else if ev.Kind == Removed {
			return fmt.Errorf("%w: servlet %d", ErrNotRegistered, ev.ID)
		}
		if ev.Kind == Removed {
			return nil
		}
		fallthrough
	case Created:
		if ev.Servlet == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, ev)
		}
		ev.element(&ev.Servlet.Element)
		if err := t.rt.AddServlet(ev.Servlet); err != nil {
			return err
		}
		t.mu.Lock()
		t.servlets[ev.ID] = ev.Servlet
		t.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
}

func (t *Tracker) filter(ev Event) error {
	switch ev.Kind {
	case Removed, Updated:
		t.mu.Lock()
		prev := t.filters[ev.ID]
		delete(t.filters, ev.ID)
		t.mu.Unlock()
		if prev != nil {
			t.rt.RemoveFilter(prev)
		} else if ev.Kind == Removed {
			return fmt.Errorf("%w: filter %d", ErrNotRegistered, ev.ID)
		}
		if ev.Kind == Removed {
			return nil
		}
		fallthrough
	case Created:
		if ev.Filter == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, ev)
		}
		ev.element(&ev.Filter.Element)
		if err := t.rt.AddFilter(ev.Filter); err != nil {
			return err
		}
		t.mu.Lock()
		t.filters[ev.ID] = ev.Filter
		t.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
}

func (t *Tracker) listener(ev Event) error {
	switch ev.Kind {
	case Removed, Updated:
		t.mu.Lock()
		prev := t.listeners[ev.ID]
		delete(t.listeners, ev.ID)
		t.mu.Unlock()
		if prev != nil {
			if err := t.rt.RemoveListener(prev, prev.Listener); err != nil {
				t.log.Debug("listener target already gone", zap.Error(err))
			}
		} else if ev.Kind == Removed {
			return fmt.Errorf("%w: listener %d", ErrNotRegistered, ev.ID)
		}
		if ev.Kind == Removed {
			return nil
		}
		fallthrough
	case Created:
		if ev.Listener == nil || ev.Listener.Listener == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, ev)
		}
		ev.element(&ev.Listener.Element)
		if err := t.rt.AddListener(ev.Listener, ev.Listener.Listener); err != nil {
			return err
		}
		t.mu.Lock()
		t.listeners[ev.ID] = ev.Listener
		t.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
}
