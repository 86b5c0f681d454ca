// internal/config/model.go
//
// Typed configuration model for the whiteboard runtime.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `conf/.env`                         – dotenv values,
//   • `conf/global.yaml`                           – primary static file,
//   • `WHITEBOARD_`-prefixed environment overrides – highest precedence.
//
// Validation happens immediately after unmarshal; the binary fails fast
// if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.  Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.
package config

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	// InspectPrefix is where the read-only inspection router is mounted.
	// Empty disables it.
	InspectPrefix string `koanf:"inspect_prefix" validate:"omitempty,startswith=/"`
}

//
// Log section
//

// Log controls the zap core built by internal/logger.
type Log struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Tee   bool   `koanf:"tee"`
}

//
// Runtime section
//

// Runtime tunes the whiteboard itself.
type Runtime struct {
	// SessionPrefix is the reserved attribute-name prefix hidden from
	// listeners.
	SessionPrefix string `koanf:"session_prefix" validate:"required,prefix"`
	// PromoteSingletons turns singleton-scoped supplier contexts into
	// direct instances as soon as they are tracked.
	PromoteSingletons bool `koanf:"promote_singletons"`
	// DefaultContext registers the shared root context at start-up.
	DefaultContext bool `koanf:"default_context"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // WHITEBOARD_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the process lifetime.
type Config struct {
	HTTP    HTTP    `koanf:"http"`
	Log     Log     `koanf:"log"`
	Runtime Runtime `koanf:"runtime"`
	Paths   Paths   `koanf:"-"`
}

// defaults seeds the koanf tree before any file is read.
var defaults = map[string]any{
	"http.listen_addr":           "127.0.0.1:8080",
	"http.inspect_prefix":        "/-/whiteboard",
	"log.level":                  "info",
	"log.tee":                    false,
	"runtime.session_prefix":     "__whiteboard@session@",
	"runtime.promote_singletons": true,
	"runtime.default_context":    true,
}
