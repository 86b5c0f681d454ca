// cmd/whiteboard/main.go
//
// Whiteboard runtime – HTTP entry point.
//
// Start-up
// --------
//
//  1. Load configuration (defaults → global.yaml → .env → WHITEBOARD_ env).
//
//  2. Start daily rotating logger (tees to console when running in a TTY
//     or when log.tee is set).
//
//  3. Build the whiteboard and the registration tracker.
//
//  4. Install every registered component.  Each one gets its own tenant
//     and publishes its contexts, servlets, filters, and listeners.
//
//  5. Start the whiteboard: serving contexts come up most specific path
//     first and drain their dynamic registrations.
//
//  6. Serve:
//
//     • /metrics                 – Prometheus collectors
//     • <http.inspect_prefix>/…  – read-only inspection JSON
//     • /…                       – servlets, routed by winning context
//
//  7. On SIGINT or SIGTERM drain HTTP, stop the whiteboard, and disconnect
//     the component tenants.
//
// A config file change reloads configuration and applies the new log
// level in place.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/component"
	"github.com/yanizio/whiteboard/internal/config"
	"github.com/yanizio/whiteboard/internal/inspect"
	"github.com/yanizio/whiteboard/internal/logger"
	"github.com/yanizio/whiteboard/internal/server"
	"github.com/yanizio/whiteboard/internal/tracker"
	"github.com/yanizio/whiteboard/internal/whiteboard"

	_ "github.com/yanizio/whiteboard/components/example" // demo component
)

const (
	appName = "whiteboard"
	Version = "0.1.0"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Multi-tenant servlet whiteboard",
		SilenceUsage: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), listenAddr)
		},
	}
	serve.Flags().StringVarP(&listenAddr, "listen", "l", "", "Override http.listen_addr")

	cmd.AddCommand(serve)
	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func run(parent context.Context, listenAddr string) error {
	if parent == nil {
		parent = context.Background()
	}

	//
	// ── 1.  Configuration and logging ──────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddr == "" {
		listenAddr = cfg.HTTP.ListenAddr
	}

	logOut, err := logger.New(cfg.Paths.Root, cfg.Log.Tee || runningInTTY(), cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("start logger: %w", err)
	}
	defer func() { _ = logOut.Sync() }()
	log := logOut.Desugar()

	//
	// ── 2.  Whiteboard, tracker, components ────────────────────────────
	//
	opts := []whiteboard.Option{
		whiteboard.WithLogger(log),
		whiteboard.WithSessionPrefix(cfg.Runtime.SessionPrefix),
	}
	if !cfg.Runtime.DefaultContext {
		opts = append(opts, whiteboard.WithoutDefault())
	}
	w := whiteboard.New(opts...)
	tr := tracker.New(w,
		tracker.WithLogger(log),
		tracker.WithPromotion(cfg.Runtime.PromoteSingletons),
	)

	tenants, err := component.Install(w, tr, log, component.All()...)
	if err != nil {
		log.Error("component install incomplete", zap.Error(err))
	}
	defer component.Uninstall(w, tenants)

	w.Start()
	defer w.Stop()

	//
	// ── 3.  Root router ────────────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if p := cfg.HTTP.InspectPrefix; p != "" {
		r.Mount(p, inspect.Routes(w))
	}
	r.Mount("/", w.Handler())

	//
	// ── 4.  Serve until signalled ──────────────────────────────────────
	//
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, cfg.Paths.Root, func(c *config.Config) {
		if err := logger.SetLevel(c.Log.Level); err != nil {
			log.Warn("log level unchanged", zap.Error(err))
		}
	}); err != nil {
		log.Warn("config watcher disabled", zap.Error(err))
	}

	log.Info("whiteboard serving",
		zap.String("addr", listenAddr),
		zap.Int("components", len(tenants)),
		zap.Strings("contexts", w.ServingPaths()),
	)
	return server.Run(ctx, server.New(listenAddr, r), log)
}
