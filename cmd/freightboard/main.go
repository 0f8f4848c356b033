// Entry point for the freightboard coordination service: chi router with
// the websocket hub, attachment file serving and the geocoding proxy, over
// a single SQLite database.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/jmtrans/freightboard/blob"
	"github.com/jmtrans/freightboard/config"
	"github.com/jmtrans/freightboard/creds"
	"github.com/jmtrans/freightboard/dbopen"
	"github.com/jmtrans/freightboard/geocode"
	"github.com/jmtrans/freightboard/hub"
	"github.com/jmtrans/freightboard/request"
	"github.com/jmtrans/freightboard/sched"
	"github.com/jmtrans/freightboard/settings"
	"github.com/jmtrans/freightboard/vehstatus"
)

func main() {
	cfg, err := config.Load(env("FREIGHTBOARD_CONFIG", "freightboard.yaml"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(request.Schema),
		dbopen.WithSchema(vehstatus.Schema),
		dbopen.WithSchema(creds.Schema),
		dbopen.WithSchema(settings.Schema))
	if err != nil {
		slog.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := request.NewStore(db, request.WithLogger(logger))
	engine := vehstatus.New(db, store, vehstatus.WithLogger(logger))
	users := creds.NewService(db)
	blobs := blob.NewStore(cfg.AttachDir)
	appCfg := settings.NewStore(db)
	cities := geocode.New(geocode.WithLogger(logger))

	h := hub.New(store, engine, users, blobs, appCfg, hub.WithLogger(logger))

	sched.New(engine, h,
		sched.WithRetirementInterval(cfg.Scheduler.RetirementInterval),
		sched.WithLogger(logger)).Start(ctx)

	// Router.
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/ws", h.Handler())
	r.Get("/api/cities", cities.Handler())
	r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(blobs.Root()))))

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("freightboard listening", "addr", cfg.Addr, "db", cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server", "error", err)
		os.Exit(1)
	}
	slog.Info("freightboard stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
