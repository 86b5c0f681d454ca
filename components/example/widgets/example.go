// components/example/widgets/example.go
//
// Example widgets: small handlers that report on the context instance a
// request was bound to.
package widgets

import (
	"encoding/json"
	"net/http"

	"github.com/yanizio/whiteboard/internal/middleware"
)

// Binding is the JSON body written by Info.
type Binding struct {
	Context  string `json:"context"`
	Tenant   string `json:"tenant"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// Info describes the bound context instance.  The optional "file" query
// parameter is run through the instance's MIME mapping.
func Info(w http.ResponseWriter, r *http.Request) {
	c := middleware.FromContext(r.Context())
	if c == nil {
		http.Error(w, "no context bound", http.StatusInternalServerError)
		return
	}

	b := Binding{Context: c.Name(), Tenant: c.Tenant().String(), Path: r.URL.Path}
	if f := r.URL.Query().Get("file"); f != "" {
		b.MimeType = c.MimeType(f)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Stamp tags every response with the name of the bound context.
func Stamp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := middleware.FromContext(r.Context()); c != nil {
			w.Header().Set("X-Whiteboard-Context", c.Name())
		}
		next.ServeHTTP(w, r)
	})
}
