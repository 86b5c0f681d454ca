package serving_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/serving"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func header(name, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add(name, value)
			next.ServeHTTP(w, r)
		})
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func servlet(name string, priority int, id int64, patterns ...string) *model.ServletModel {
	return &model.ServletModel{
		Element:  model.Element{Priority: priority, ID: id},
		Name:     name,
		Patterns: patterns,
		Handler:  okHandler(name),
	}
}

func TestMux_RoutesPerContextPath(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	require.NoError(t, m.AddServlet("/", servlet("home", 0, 1, "/")))
	require.NoError(t, m.AddServlet("/app", servlet("app", 0, 2, "/hello", "/files/*")))

	assert.Equal(t, "home", get(t, m, "/").Body.String())
	assert.Equal(t, "app", get(t, m, "/app/hello").Body.String())
	assert.Equal(t, "app", get(t, m, "/app/files/a/b").Body.String())
	assert.Equal(t, http.StatusNotFound, get(t, m, "/app/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(t, m, "/apple").Code)
}

func TestMux_AddRemove(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	s := servlet("s", 0, 1, "/s")
	require.NoError(t, m.AddServlet("/", s))
	require.ErrorIs(t, m.AddServlet("/", servlet("s", 0, 2, "/t")), serving.ErrDuplicateElement)
	assert.Equal(t, http.StatusOK, get(t, m, "/s").Code)

	assert.True(t, m.RemoveServlet("/", s))
	assert.False(t, m.RemoveServlet("/", s))
	assert.Equal(t, http.StatusNotFound, get(t, m, "/s").Code)
}

func TestMux_Validation(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	require.ErrorIs(t, m.AddServlet("/", &model.ServletModel{Name: "x"}), serving.ErrNoHandler)
	require.ErrorIs(t, m.AddServlet("/", servlet("x", 0, 1, "*.jsp")), serving.ErrInvalidPattern)
	require.ErrorIs(t, m.AddFilter("/", &model.FilterModel{Name: "f"}), serving.ErrNoMiddleware)
}

func TestMux_PatternClaimedByHigherRank(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	require.NoError(t, m.AddServlet("/", servlet("low", 1, 1, "/p")))
	require.NoError(t, m.AddServlet("/", servlet("high", 9, 2, "/p")))
	assert.Equal(t, "high", get(t, m, "/p").Body.String())
	assert.Equal(t, []string{"/p", "/p"}, m.Routes()["/"])
}

func TestMux_FiltersScopedAndOrdered(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	require.NoError(t, m.AddServlet("/app", servlet("s", 0, 1, "/api/*", "/page")))
	require.NoError(t, m.AddFilter("/app", &model.FilterModel{
		Element: model.Element{Priority: 1, ID: 2}, Name: "second", Middleware: header("X-Trace", "second"),
	}))
	require.NoError(t, m.AddFilter("/app", &model.FilterModel{
		Element: model.Element{Priority: 5, ID: 3}, Name: "first", Middleware: header("X-Trace", "first"),
	}))
	require.NoError(t, m.AddFilter("/app", &model.FilterModel{
		Element: model.Element{ID: 4}, Name: "api-only", Patterns: []string{"/api/*"}, Middleware: header("X-Api", "yes"),
	}))

	rec := get(t, m, "/app/api/v1")
	assert.Equal(t, []string{"first", "second"}, rec.Header().Values("X-Trace"))
	assert.Equal(t, "yes", rec.Header().Get("X-Api"))

	rec = get(t, m, "/app/page")
	assert.Equal(t, []string{"first", "second"}, rec.Header().Values("X-Trace"))
	assert.Empty(t, rec.Header().Get("X-Api"))

	assert.True(t, m.RemoveFilter("/app", &model.FilterModel{Name: "first"}))
	assert.Equal(t, []string{"second"}, get(t, m, "/app/page").Header().Values("X-Trace"))
}

func TestMux_GuardWrapsFilters(t *testing.T) {
	t.Parallel()

	var order []string
	guard := func(contextPath string, s *model.ServletModel, h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "guard:"+contextPath+":"+s.Name)
			if r.URL.Query().Has("deny") {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
	m := serving.NewMux(zap.NewNop(), serving.WithGuard(guard))
	require.NoError(t, m.AddServlet("/app", servlet("s", 0, 1, "/x")))
	require.NoError(t, m.AddFilter("/app", &model.FilterModel{
		Element: model.Element{ID: 2}, Name: "f",
		Middleware: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, "filter")
				next.ServeHTTP(w, r)
			})
		},
	}))

	assert.Equal(t, "s", get(t, m, "/app/x").Body.String())
	assert.Equal(t, []string{"guard:/app:s", "filter"}, order)

	order = nil
	assert.Equal(t, http.StatusForbidden, get(t, m, "/app/x?deny=1").Code)
	assert.Equal(t, []string{"guard:/app:s"}, order)

	order = nil
	assert.Equal(t, http.StatusNotFound, get(t, m, "/app/missing").Code)
	assert.Empty(t, order)
}

func TestMux_MalformedPatternLeavesRoutesIntact(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	require.NoError(t, m.AddServlet("/app", servlet("good", 0, 1, "/ok")))

	for i, p := range []string{"/a/{id", "/a/*/b", "/x/{id}/{id}"} {
		err := m.AddServlet("/app", servlet("bad", 0, int64(10+i), "/fine", p))
		require.ErrorIs(t, err, serving.ErrInvalidPattern, p)
	}
	assert.Equal(t, []string{"/ok"}, m.Routes()["/app"])
	assert.Equal(t, http.StatusNotFound, get(t, m, "/app/fine").Code)

	// later changes still rebuild cleanly
	require.NoError(t, m.AddServlet("/app", servlet("bad", 0, 20, "/fine")))
	require.NoError(t, m.AddFilter("/app", &model.FilterModel{Name: "f", Middleware: header("X-F", "1")}))
	rec := get(t, m, "/app/fine")
	assert.Equal(t, "bad", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-F"))
	assert.Equal(t, "good", get(t, m, "/app/ok").Body.String())
	assert.True(t, m.RemoveServlet("/app", &model.ServletModel{Name: "good"}))
	assert.Equal(t, http.StatusNotFound, get(t, m, "/app/ok").Code)
}

func TestMux_PanickingFilterIsRolledBack(t *testing.T) {
	t.Parallel()

	m := serving.NewMux(zap.NewNop())
	require.NoError(t, m.AddServlet("/", servlet("s", 0, 1, "/s")))
	err := m.AddFilter("/", &model.FilterModel{Name: "boom", Middleware: func(http.Handler) http.Handler {
		panic("no")
	}})
	require.ErrorIs(t, err, serving.ErrRouteBuild)
	assert.Equal(t, "s", get(t, m, "/s").Body.String())
	assert.False(t, m.RemoveFilter("/", &model.FilterModel{Name: "boom"}))
}
