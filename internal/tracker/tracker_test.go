package tracker_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/tracker"
	"github.com/yanizio/whiteboard/internal/webctx"
	"github.com/yanizio/whiteboard/internal/whiteboard"
)

var acme = tenant.New(1, "acme")

func setup(opts ...tracker.Option) (*whiteboard.Whiteboard, *tracker.Tracker) {
	w := whiteboard.New(whiteboard.WithLogger(zap.NewNop()))
	return w, tracker.New(w, append([]tracker.Option{tracker.WithLogger(zap.NewNop())}, opts...)...)
}

func contextEvent(kind tracker.Kind, id int64, spec *tracker.ContextSpec) tracker.Event {
	return tracker.Event{Kind: kind, Target: tracker.TargetContext, Tenant: acme, ID: id, Context: spec}
}

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, body) })
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestContextEvents(t *testing.T) {
	t.Parallel()

	w, tr := setup()
	require.NoError(t, tr.Handle(contextEvent(tracker.Created, 10, &tracker.ContextSpec{
		Name: "shop", Path: "/shop", Params: map[string]string{"k": "v"}, VirtualHosts: []string{"Shop.Example"},
		Instance: webctx.Wrap(acme, webctx.DefaultHelper{}, "shop"),
	})))

	m := w.ResolveWinningContext("/shop/cart")
	require.NotNil(t, m)
	assert.Equal(t, "shop", m.Name())
	assert.Equal(t, map[string]string{"k": "v"}, m.Parameters())
	assert.Equal(t, []string{"shop.example"}, m.VirtualHosts())
	assert.True(t, m.HasDirectInstance())

	require.NoError(t, tr.Handle(contextEvent(tracker.Updated, 10, &tracker.ContextSpec{Name: "shop", Path: "/store"})))
	assert.Same(t, model.Default(), w.ResolveWinningContext("/shop/cart"))
	assert.Equal(t, "/store", w.ResolveWinningContext("/store").Path())

	require.NoError(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetContext, ID: 10}))
	require.ErrorIs(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetContext, ID: 10}), tracker.ErrNotRegistered)

	require.ErrorIs(t, tr.Handle(contextEvent(tracker.Created, 11, &tracker.ContextSpec{Name: ""})), tracker.ErrRejected)
	require.NoError(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetContext, ID: 11}),
		"withdrawing a rejected context is not an error")
	require.ErrorIs(t, tr.Handle(contextEvent(tracker.Created, 12, nil)), tracker.ErrMissingPayload)
	require.ErrorIs(t, tr.Handle(tracker.Event{Kind: tracker.Created}), tracker.ErrUnknownEvent)
	require.ErrorIs(t, tr.Handle(tracker.Event{Kind: tracker.Kind(9), Target: tracker.TargetContext}), tracker.ErrUnknownEvent)
}

func TestSingletonScopePromotes(t *testing.T) {
	t.Parallel()

	single := webctx.Wrap(nil, webctx.DefaultHelper{}, "single")
	supplier := func(*tenant.Tenant, string) (webctx.Context, error) { return single, nil }

	w, tr := setup()
	require.NoError(t, tr.Handle(contextEvent(tracker.Created, 10, &tracker.ContextSpec{
		Name: "single", Path: "/s", Scope: tracker.ScopeSingleton, Supplier: supplier,
	})))
	assert.True(t, w.ResolveWinningContext("/s").HasDirectInstance())

	require.NoError(t, tr.Handle(contextEvent(tracker.Created, 11, &tracker.ContextSpec{
		Name: "proto", Path: "/p", Supplier: supplier,
	})))
	assert.False(t, w.ResolveWinningContext("/p").HasDirectInstance(), "prototype scope is never promoted")

	w2, off := setup(tracker.WithPromotion(false))
	require.NoError(t, off.Handle(contextEvent(tracker.Created, 10, &tracker.ContextSpec{
		Name: "single", Path: "/s", Scope: tracker.ScopeSingleton, Supplier: supplier,
	})))
	assert.False(t, w2.ResolveWinningContext("/s").HasDirectInstance())
}

func TestServletAndFilterEvents(t *testing.T) {
	t.Parallel()

	w, tr := setup()
	require.NoError(t, tr.Handle(tracker.Event{
		Kind: tracker.Created, Target: tracker.TargetServlet, Tenant: acme, ID: 20, Priority: 3,
		Servlet: &model.ServletModel{Name: "hello", Patterns: []string{"/hello"}, Handler: text("v1")},
	}))
	assert.Equal(t, "v1", get(w.Handler(), "/hello").Body.String())

	require.NoError(t, tr.Handle(tracker.Event{
		Kind: tracker.Updated, Target: tracker.TargetServlet, Tenant: acme, ID: 20,
		Servlet: &model.ServletModel{Name: "hello", Patterns: []string{"/hello"}, Handler: text("v2")},
	}))
	assert.Equal(t, "v2", get(w.Handler(), "/hello").Body.String())

	require.NoError(t, tr.Handle(tracker.Event{
		Kind: tracker.Created, Target: tracker.TargetFilter, Tenant: acme, ID: 21,
		Filter: &model.FilterModel{Name: "tag", Middleware: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				rw.Header().Set("X-Tag", "on")
				next.ServeHTTP(rw, r)
			})
		}},
	}))
	assert.Equal(t, "on", get(w.Handler(), "/hello").Header().Get("X-Tag"))

	require.NoError(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetFilter, ID: 21}))
	assert.Empty(t, get(w.Handler(), "/hello").Header().Get("X-Tag"))
	require.NoError(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetServlet, ID: 20}))
	assert.Equal(t, http.StatusNotFound, get(w.Handler(), "/hello").Code)

	require.ErrorIs(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetServlet, ID: 20}), tracker.ErrNotRegistered)
	require.ErrorIs(t, tr.Handle(tracker.Event{Kind: tracker.Created, Target: tracker.TargetFilter, ID: 22}), tracker.ErrMissingPayload)
}

type startCounter struct{ started int }

func (s *startCounter) ContextInitialized(listener.ContextEvent) { s.started++ }
func (s *startCounter) ContextDestroyed(listener.ContextEvent)   {}

func TestListenerEvents(t *testing.T) {
	t.Parallel()

	w, tr := setup()
	require.NoError(t, tr.Handle(contextEvent(tracker.Created, 10, &tracker.ContextSpec{Name: "app", Path: "/app"})))

	sc := &startCounter{}
	require.NoError(t, tr.Handle(tracker.Event{
		Kind: tracker.Created, Target: tracker.TargetListener, Tenant: acme, ID: 30, Priority: 4,
		Listener: &model.ListenerModel{Element: model.Element{ContextName: "app"}, Listener: sc},
	}))
	seq, err := w.MaterializeListeners("/app")
	require.NoError(t, err)
	require.Len(t, seq, 1)
	assert.Same(t, sc, seq[0])

	w.Start()
	w.Stop()
	assert.Equal(t, 1, sc.started)

	require.NoError(t, tr.Handle(tracker.Event{Kind: tracker.Removed, Target: tracker.TargetListener, ID: 30}))
	seq, _ = w.MaterializeListeners("/app")
	assert.Empty(t, seq)

	err = tr.Handle(tracker.Event{
		Kind: tracker.Created, Target: tracker.TargetListener, ID: 31,
		Listener: &model.ListenerModel{Element: model.Element{ContextName: "missing"}, Listener: sc},
	})
	require.ErrorIs(t, err, whiteboard.ErrUnknownContext)
}

func TestRun(t *testing.T) {
	t.Parallel()

	w, tr := setup()
	ch := make(chan tracker.Event, 3)
	ch <- contextEvent(tracker.Created, 10, &tracker.ContextSpec{Name: "a", Path: "/a"})
	ch <- tracker.Event{Kind: tracker.Created} // logged and skipped
	ch <- contextEvent(tracker.Created, 11, &tracker.ContextSpec{Name: "b", Path: "/b"})
	close(ch)

	require.NoError(t, tr.Run(context.Background(), ch))
	assert.NotNil(t, w.ServingContext("/a"))
	assert.NotNil(t, w.ServingContext("/b"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tr.Run(ctx, make(chan tracker.Event))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "created", tracker.Created.String())
	assert.Equal(t, "listener", tracker.TargetListener.String())
	assert.Equal(t, "context removed id=3 tenant=<shared>",
		tracker.Event{Kind: tracker.Removed, Target: tracker.TargetContext, ID: 3}.String())
}
