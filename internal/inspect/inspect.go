// internal/inspect/inspect.go
//
// Read-only inspection endpoints.
//
// Routes
// ------
//
//	GET /contexts                      every registered model with its status
//	GET /contexts/winner?path=&host=   the model that serves a request
//	GET /serving                       serving contexts, running flag, listeners
//	GET /serving/listeners?path=       materialized listener order for one path
//	GET /routes                        servlet patterns per context path
//
// Output is indented JSON.
package inspect

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/middleware"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/registry"
	"github.com/yanizio/whiteboard/internal/serving"
)

// Runtime is what the inspection endpoints read from.
type Runtime interface {
	Contexts() *registry.Registry
	ServingPaths() []string
	ServingContext(path string) *serving.Context
	Mux() *serving.Mux
}

// ContextDTO is the JSON form of a context model.
type ContextDTO struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Priority     int               `json:"priority"`
	Owner        string            `json:"owner"`
	Resolution   string            `json:"resolution"`
	Shared       bool              `json:"shared"`
	VirtualHosts []string          `json:"virtual_hosts,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Status       string            `json:"status,omitempty"`
	Default      bool              `json:"default,omitempty"`
}

// ServingDTO is the JSON form of a serving context.
type ServingDTO struct {
	Path      string   `json:"path"`
	Running   bool     `json:"running"`
	Governing string   `json:"governing,omitempty"`
	Listeners []string `json:"listeners"`
}

// FromModel converts m.
func FromModel(m *model.ContextModel) ContextDTO {
	return ContextDTO{
		ID:           m.ID(),
		Name:         m.Name(),
		Path:         m.Path(),
		Priority:     m.Priority(),
		Owner:        m.Owner().String(),
		Resolution:   m.Resolution().String(),
		Shared:       m.Shared(),
		VirtualHosts: m.VirtualHosts(),
		Parameters:   m.Parameters(),
		Default:      model.IsDefault(m),
	}
}

// Routes returns the inspection router.
func Routes(rt Runtime) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Headers)

	r.Get("/contexts", func(w http.ResponseWriter, _ *http.Request) {
		snap := rt.Contexts().Snapshot()
		out := make([]ContextDTO, 0, len(snap))
		for _, e := range snap {
			dto := FromModel(e.Model)
			dto.Status = string(e.Status)
			out = append(out, dto)
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/contexts/winner", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		m := rt.Contexts().ResolveFor(q.Get("host"), q.Get("path"))
		if m == nil {
			writeError(w, http.StatusNotFound, "no context serves %q", q.Get("path"))
			return
		}
		writeJSON(w, http.StatusOK, FromModel(m))
	})

	r.Get("/serving", func(w http.ResponseWriter, _ *http.Request) {
		paths := rt.ServingPaths()
		out := make([]ServingDTO, 0, len(paths))
		for _, p := range paths {
			sc := rt.ServingContext(p)
			if sc == nil {
				continue
			}
			dto := ServingDTO{Path: p, Running: sc.Running(), Listeners: describe(sc.Listeners().Materialize())}
			if m := rt.Contexts().Governing(p); m != nil {
				dto.Governing = m.Name()
			}
			out = append(out, dto)
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/serving/listeners", func(w http.ResponseWriter, r *http.Request) {
		p := model.NormalizePath(r.URL.Query().Get("path"))
		sc := rt.ServingContext(p)
		if sc == nil {
			writeError(w, http.StatusNotFound, "no serving context at %q", p)
			return
		}
		writeJSON(w, http.StatusOK, describe(sc.Listeners().Materialize()))
	})

	r.Get("/routes", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, rt.Mux().Routes())
	})

	return r
}

// describe names each listener by its dynamic type.
func describe(seq []any) []string {
	out := make([]string, len(seq))
	for i, l := range seq {
		out[i] = fmt.Sprintf("%T", listener.Unwrap(l))
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
