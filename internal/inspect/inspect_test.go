package inspect_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/inspect"
	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/whiteboard"
)

type noop struct{}

func (noop) ContextInitialized(listener.ContextEvent) {}
func (noop) ContextDestroyed(listener.ContextEvent)   {}

func fixture(t *testing.T) http.Handler {
	t.Helper()

	w := whiteboard.New(whiteboard.WithLogger(zap.NewNop()))
	acme := tenant.New(1, "acme")

	app := model.New(acme, 5, 10)
	app.SetName("app")
	app.SetPath("/app")
	app.SetVirtualHosts([]string{"acme.example"})
	require.True(t, w.RegisterContext(app))

	shadow := model.New(acme, 0, 11)
	shadow.SetName("app")
	shadow.SetPath("/z")
	require.True(t, w.RegisterContext(shadow))

	bad := model.New(acme, 0, 12)
	require.False(t, w.RegisterContext(bad))

	require.NoError(t, w.AddListener(&model.ListenerModel{Element: model.Element{ID: 1, ContextName: "app"}}, noop{}))
	require.NoError(t, w.AddServlet(&model.ServletModel{
		Element: model.Element{ContextName: "app"}, Name: "s", Patterns: []string{"/s"}, Handler: http.NotFoundHandler(),
	}))
	return inspect.Routes(w)
}

func getJSON(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	return rec.Code
}

func TestContexts(t *testing.T) {
	t.Parallel()

	var got []inspect.ContextDTO
	require.Equal(t, http.StatusOK, getJSON(t, fixture(t), "/contexts", &got))
	require.Len(t, got, 4)

	byID := map[int64]inspect.ContextDTO{}
	for _, c := range got {
		byID[c.ID] = c
	}
	assert.Equal(t, "active", byID[10].Status)
	assert.Equal(t, "acme#1", byID[10].Owner)
	assert.Equal(t, "none", byID[10].Resolution)
	assert.Equal(t, "shadowed", byID[11].Status)
	assert.Equal(t, "invalid", byID[12].Status)
	assert.True(t, byID[0].Default)
	assert.Equal(t, "<shared>", byID[0].Owner)
}

func TestWinner(t *testing.T) {
	t.Parallel()

	h := fixture(t)
	var got inspect.ContextDTO
	require.Equal(t, http.StatusOK, getJSON(t, h, "/contexts/winner?path=/app/x&host=acme.example", &got))
	assert.Equal(t, int64(10), got.ID)
	assert.Equal(t, []string{"acme.example"}, got.VirtualHosts)

	require.Equal(t, http.StatusOK, getJSON(t, h, "/contexts/winner?path=/app/x&host=other.example", &got))
	assert.True(t, got.Default)
}

func TestWinner_NotFound(t *testing.T) {
	t.Parallel()

	w := whiteboard.New(whiteboard.WithLogger(zap.NewNop()), whiteboard.WithoutDefault())
	var got map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, inspect.Routes(w), "/contexts/winner?path=/x", &got))
	assert.Contains(t, got["error"], "/x")
}

func TestServing(t *testing.T) {
	t.Parallel()

	h := fixture(t)
	var got []inspect.ServingDTO
	require.Equal(t, http.StatusOK, getJSON(t, h, "/serving", &got))
	require.Len(t, got, 2)
	assert.Equal(t, "/app", got[0].Path)
	assert.Equal(t, "app", got[0].Governing)
	assert.False(t, got[0].Running)
	assert.Equal(t, []string{"inspect_test.noop"}, got[0].Listeners)
	assert.Equal(t, "/", got[1].Path)

	var names []string
	require.Equal(t, http.StatusOK, getJSON(t, h, "/serving/listeners?path=app", &names))
	assert.Equal(t, []string{"inspect_test.noop"}, names)

	var missing map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, h, "/serving/listeners?path=/nope", &missing))
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	var got map[string][]string
	require.Equal(t, http.StatusOK, getJSON(t, fixture(t), "/routes", &got))
	assert.Equal(t, []string{"/s"}, got["/app"])
}
