package listener

import "github.com/yanizio/whiteboard/internal/webctx"

// ContextEvent is delivered when a serving context starts or stops.
type ContextEvent struct {
	Path    string
	Context webctx.Context // the governing context instance, may be nil
}

// ContextListener observes serving context lifecycle.
type ContextListener interface {
	ContextInitialized(ContextEvent)
	ContextDestroyed(ContextEvent)
}

// SessionEvent is delivered on session creation and destruction.
type SessionEvent struct {
	SessionID string
}

// SessionListener observes session lifecycle.
type SessionListener interface {
	SessionCreated(SessionEvent)
	SessionDestroyed(SessionEvent)
}

// SessionBindingEvent is delivered when a session attribute changes.
type SessionBindingEvent struct {
	SessionID string
	Name      string
	Value     any
}

// SessionAttributeListener observes session attribute changes.
type SessionAttributeListener interface {
	AttributeAdded(SessionBindingEvent)
	AttributeRemoved(SessionBindingEvent)
	AttributeReplaced(SessionBindingEvent)
}

// Lifecycle returns the context listeners of seq, in order.
func Lifecycle(seq []any) []ContextListener {
	out := make([]ContextListener, 0, len(seq))
	for _, l := range seq {
		if cl, ok := l.(ContextListener); ok {
			out = append(out, cl)
		}
	}
	return out
}
