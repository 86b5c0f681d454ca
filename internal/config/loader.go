// internal/config/loader.go
//
// Configuration loader and hot-reloader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from four layers (highest
precedence last):

  1. Built-in defaults (see model.go).
  2. `conf/global.yaml`.
  3. Optional `conf/.env`, read as `WHITEBOARD_` keys without touching the
     process environment.
  4. Environment variables prefixed `WHITEBOARD_`, where `__` maps to “.”
     (e.g., `WHITEBOARD_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.  `Reload()` calls `Load()` again
and swaps the pointer.  `Watch()` reloads whenever a file under `conf/`
changes and hands the new Config to a callback.

Instrumentation
---------------
  • DEBUG spans: root discovery, YAML read, dotenv read.
  • ERROR spans: YAML parse, env overlay, unmarshal, validation failures.
  • INFO  span:  final “config loaded” with key highlights.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`;
    this lets `go run ./cmd/whiteboard` work from any sub-directory.
  • A failed reload keeps the previous Config.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	envPrefix = "WHITEBOARD_"
	rootEnv   = envPrefix + "ROOT"

	// debounce collapses the burst of events editors emit on save.
	debounce = 200 * time.Millisecond
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves WHITEBOARD_ROOT or climbs directories until
// conf/global.yaml is found.  Falls back to executable heuristic for
// production layout.
func rootDir() string {
	if r := os.Getenv(rootEnv); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*──────────────────────────── dotenv layer ────────────────────────────────*/

// envKey maps WHITEBOARD_HTTP__LISTEN_ADDR to http.listen_addr.  Keys
// outside the prefix map to "" and are skipped.
func envKey(s string) string {
	if !strings.HasPrefix(s, envPrefix) || s == rootEnv {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "__", "."))
}

// dotenv is a koanf.Provider over a parsed .env file.
type dotenv map[string]string

func (d dotenv) ReadBytes() ([]byte, error) {
	return nil, errors.New("dotenv provider does not support ReadBytes")
}

func (d dotenv) Read() (map[string]any, error) {
	out := make(map[string]any, len(d))
	for k, val := range d {
		if key := envKey(k); key != "" {
			out[key] = val
		}
	}
	return maps.Unflatten(out, "."), nil
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load discovers the root directory and loads from it.
func Load() (*Config, error) {
	return LoadFrom(rootDir())
}

// LoadFrom reads defaults, YAML, .env, and env overrides under root,
// validates, and caches the result.
func LoadFrom(root string) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	k := koanf.New(".")
	for key, val := range defaults {
		_ = k.Set(key, val)
	}

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// .env (optional, no error if missing)
	dotPath := filepath.Join(root, "conf", ".env")
	if vals, err := godotenv.Read(dotPath); err == nil {
		if err := k.Load(dotenv(vals), nil); err != nil {
			zap.S().Errorw("config dotenv overlay failed", "file", dotPath, "err", err)
			return nil, err
		}
		zap.S().Debugw("config dotenv loaded", "file", dotPath, "keys", len(vals))
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"log_level", cfg.Log.Level,
		"default_context", cfg.Runtime.DefaultContext,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── hot reload ──────────────────────────────────*/

// Watch reloads the Config from root whenever a file in root/conf is
// written, created, or renamed, and passes each successfully loaded
// Config to fn.  It returns once the watcher is installed; watching stops
// when ctx is done.
func Watch(ctx context.Context, root string, fn func(*Config)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Join(root, "conf")
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return err
	}
	zap.S().Debugw("config watcher started", "dir", dir)

	go func() {
		defer fsw.Close()

		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return

			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				timer.Reset(debounce)

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				zap.S().Warnw("config watcher error", "err", err)

			case <-timer.C:
				cfg, err := LoadFrom(root)
				if err != nil {
					zap.S().Warnw("config reload rejected, keeping previous", "err", err)
					continue
				}
				if fn != nil {
					fn(cfg)
				}
			}
		}
	}()
	return nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
