// components/example/example.go
//
// Example Component: a tenant that contributes one context and populates
// it with a servlet, a filter, a lifecycle listener, and a dynamically
// registered servlet.
//
//	GET /example/info            JSON description of the bound context
//	GET /example/private/info    same, but requires X-Example-Key
//	GET /example/visits          per-session visit counter
//	GET /example/hello           added dynamically when the context starts
package example

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/components/example/widgets"
	"github.com/yanizio/whiteboard/internal/component"
	"github.com/yanizio/whiteboard/internal/dynreg"
	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/session"
	"github.com/yanizio/whiteboard/internal/tracker"
	"github.com/yanizio/whiteboard/internal/webctx"
)

const (
	ContextName = "example"
	ContextPath = "/example"
	KeyHeader   = "X-Example-Key"
)

// compile-time assertions
var (
	_ component.Component               = (*Comp)(nil)
	_ webctx.Helper                     = gate{}
	_ listener.ContextListener          = (*lifecycle)(nil)
	_ listener.SessionAttributeListener = (*lifecycle)(nil)
)

// Comp implements component.Component.
type Comp struct {
	// Key guards /private/.  Empty refuses every private request.
	Key string

	audit *lifecycle
}

func (c *Comp) Name() string { return "example" }

// Init publishes the example registrations.
func (c *Comp) Init(h component.Host) error {
	log := h.Logger()

	if _, err := h.Emit(tracker.Event{
		Kind: tracker.Created, Target: tracker.TargetContext,
		Context: &tracker.ContextSpec{
			Name:     ContextName,
			Path:     ContextPath,
			Params:   map[string]string{"greeting": "hello from example"},
			Instance: webctx.Wrap(h.Tenant(), gate{key: c.Key}, ContextName),
		},
	}); err != nil {
		return err
	}

	c.audit = &lifecycle{log: log}
	el := model.Element{ContextName: ContextName}
	events := []tracker.Event{
		{Kind: tracker.Created, Target: tracker.TargetServlet, Servlet: &model.ServletModel{
			Element: el, Name: "info", Patterns: []string{"/info", "/private/info"},
			Handler: http.HandlerFunc(widgets.Info),
		}},
		{Kind: tracker.Created, Target: tracker.TargetServlet, Servlet: &model.ServletModel{
			Element: el, Name: "visits", Patterns: []string{"/visits"},
			Handler: http.HandlerFunc(visits),
		}},
		{Kind: tracker.Created, Target: tracker.TargetFilter, Filter: &model.FilterModel{
			Element: el, Name: "stamp", Patterns: []string{"/*"}, Middleware: widgets.Stamp,
		}},
		{Kind: tracker.Created, Target: tracker.TargetListener, Listener: &model.ListenerModel{
			Element: el, Listener: c.audit,
		}},
	}
	for _, ev := range events {
		if _, err := h.Emit(ev); err != nil {
			return err
		}
	}

	return h.Buffer(dynreg.KindServlet, &model.ServletModel{
		Element:  el,
		Name:     "hello",
		Patterns: []string{"/hello"},
		Handler:  http.HandlerFunc(hello),
	})
}

// hello is installed when the example context starts.
func hello(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "hello from example")
}

// visits counts requests per session.  The last path is kept under the
// reserved prefix, which attribute listeners never see.
func visits(w http.ResponseWriter, r *http.Request) {
	store := session.FromContext(r.Context())
	if store == nil {
		http.Error(w, "no session store", http.StatusInternalServerError)
		return
	}
	ss := store.Load(w, r)
	n, _ := ss.Attribute("visits").(int)
	ss.SetAttribute("visits", n+1)
	ss.SetAttribute(listener.DefaultReservedPrefix+"last", r.URL.Path)
	_, _ = io.WriteString(w, strconv.Itoa(n+1))
}

//
// context helper
//

// gate guards /private/ with a shared key.
type gate struct {
	webctx.DefaultHelper
	key string
}

func (g gate) HandleSecurity(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.URL.Path, ContextPath+"/private/") {
		return true
	}
	if g.key != "" && r.Header.Get(KeyHeader) == g.key {
		return true
	}
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	return false
}

//
// listener
//

type lifecycle struct {
	log *zap.Logger

	mu   sync.Mutex
	seen []string // attribute events, "op:name"
}

func (l *lifecycle) ContextInitialized(ev listener.ContextEvent) {
	l.log.Info("example context up", zap.String("path", ev.Path))
}

func (l *lifecycle) ContextDestroyed(ev listener.ContextEvent) {
	l.log.Info("example context down", zap.String("path", ev.Path))
}

func (l *lifecycle) record(op string, e listener.SessionBindingEvent) {
	l.mu.Lock()
	l.seen = append(l.seen, op+":"+e.Name)
	l.mu.Unlock()
	l.log.Debug("session attribute", zap.String("op", op), zap.String("name", e.Name))
}

func (l *lifecycle) AttributeAdded(e listener.SessionBindingEvent)    { l.record("added", e) }
func (l *lifecycle) AttributeRemoved(e listener.SessionBindingEvent)  { l.record("removed", e) }
func (l *lifecycle) AttributeReplaced(e listener.SessionBindingEvent) { l.record("replaced", e) }

// Register component at package init.
func init() {
	component.Register(&Comp{})
}
