package listener

import "strings"

// DefaultReservedPrefix marks session attributes the runtime uses to bridge
// sessions between contexts.  Tenants never see events for them.
const DefaultReservedPrefix = "__whiteboard@session@"

// attributeFilter drops attribute events whose name carries the reserved
// prefix and forwards the rest.
type attributeFilter struct {
	target SessionAttributeListener
	prefix string
	orig   any
}

func (f *attributeFilter) hidden(e SessionBindingEvent) bool {
	return strings.HasPrefix(e.Name, f.prefix)
}

func (f *attributeFilter) AttributeAdded(e SessionBindingEvent) {
	if !f.hidden(e) {
		f.target.AttributeAdded(e)
	}
}

func (f *attributeFilter) AttributeRemoved(e SessionBindingEvent) {
	if !f.hidden(e) {
		f.target.AttributeRemoved(e)
	}
}

func (f *attributeFilter) AttributeReplaced(e SessionBindingEvent) {
	if !f.hidden(e) {
		f.target.AttributeReplaced(e)
	}
}

// Unwrap returns the decorated listener.
func (f *attributeFilter) Unwrap() any { return f.orig }

// The decorator must expose exactly the capabilities of the listener it
// wraps, so each combination gets its own type.
type (
	attributeFilterContext struct {
		*attributeFilter
		ContextListener
	}
	attributeFilterSession struct {
		*attributeFilter
		SessionListener
	}
	attributeFilterContextSession struct {
		*attributeFilter
		ContextListener
		SessionListener
	}
)

// FilterSessionAttributes wraps l when it observes session attributes.
// Other listeners are returned unchanged.
func FilterSessionAttributes(l any, prefix string) any {
	sal, ok := l.(SessionAttributeListener)
	if !ok {
		return l
	}
	f := &attributeFilter{target: sal, prefix: prefix, orig: l}

	cl, isContext := l.(ContextListener)
	sl, isSession := l.(SessionListener)
	switch {
	case isContext && isSession:
		return &attributeFilterContextSession{attributeFilter: f, ContextListener: cl, SessionListener: sl}
	case isContext:
		return &attributeFilterContext{attributeFilter: f, ContextListener: cl}
	case isSession:
		return &attributeFilterSession{attributeFilter: f, SessionListener: sl}
	default:
		return f
	}
}

// Unwrap returns the listener behind a session attribute filter, or l
// itself.
func Unwrap(l any) any {
	if u, ok := l.(interface{ Unwrap() any }); ok {
		return u.Unwrap()
	}
	return l
}
