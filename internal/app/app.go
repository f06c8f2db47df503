// Package app assembles the scene hub from its configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"scenehub/server/internal/config"
	servernet "scenehub/server/internal/net"
	"scenehub/server/internal/net/ws"
	"scenehub/server/internal/observability"
	"scenehub/server/internal/router"
	"scenehub/server/internal/scene"
	"scenehub/server/internal/session"
	"scenehub/server/internal/store"
	"scenehub/server/internal/telemetry"
	"scenehub/server/logging"
	loggingSinks "scenehub/server/logging/sinks"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Settings config.Config
	Logger   telemetry.Logger
	// Publisher replaces the sink-backed logging router. Tests use it to
	// capture events.
	Publisher logging.Publisher
}

// App owns every long-lived component of a running hub.
type App struct {
	settings config.Config
	logger   telemetry.Logger

	logRouter *logging.Router
	publisher logging.Publisher
	metrics   *logging.Metrics

	store    store.Store
	registry *scene.Registry
	sessions *session.Tracker
	router   *router.Router
	ws       *ws.Handler
	handler  http.Handler

	shutdownTracing func(context.Context) error
}

// New builds the hub and loads the persisted scene. A snapshot that exists
// but cannot be decoded is returned as an error; the hub refuses to start
// rather than overwrite it.
func New(ctx context.Context, cfg Config) (_ *App, err error) {
	settings := cfg.Settings
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	a := &App{
		settings: settings,
		logger:   telemetryLogger,
		metrics:  &logging.Metrics{},
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.publisher = cfg.Publisher
	if a.publisher == nil {
		logRouter, err := newLogRouter(settings, fallbackLogger)
		if err != nil {
			return nil, err
		}
		a.logRouter = logRouter
		a.publisher = logRouter
	}

	obsCfg := observability.Config{
		EnablePprof:  settings.EnablePprof,
		OTelEndpoint: settings.OTelEndpoint,
	}
	a.shutdownTracing, err = observability.Setup(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	a.store, err = store.Open(settings.Store, settings.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", settings.Store, err)
	}

	metrics := telemetry.WrapMetrics(a.metrics)
	a.registry = scene.NewRegistry(a.store, scene.Options{
		PersistTimeout: settings.PersistTimeout,
		Publisher:      a.publisher,
	})
	if err := a.registry.Load(ctx); err != nil {
		return nil, err
	}
	metrics.Store(telemetry.MetricSceneObjects, uint64(a.registry.Len()))
	telemetryLogger.Printf("loaded %d objects from %s store", a.registry.Len(), a.store.Backend())

	a.sessions = session.NewTracker(session.Config{
		MaxConnections: settings.MaxConnections,
		Logger:         telemetryLogger,
		Publisher:      a.publisher,
		Metrics:        metrics,
	})
	a.router = router.New(router.Config{
		Registry:      a.registry,
		Sessions:      a.sessions,
		IncludeSender: settings.BroadcastIncludeSender,
		Logger:        telemetryLogger,
		Publisher:     a.publisher,
		Metrics:       metrics,
	})
	a.ws = ws.NewHandler(a.router, ws.HandlerConfig{
		Logger:         telemetryLogger,
		AllowedOrigins: settings.AllowedOrigins,
		SendBuffer:     settings.SendBuffer,
	})

	httpCfg := servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		Websocket:     a.ws.Handle,
		Scene:         a.registry,
		Sessions:      a.sessions,
		Clients:       a.router.Clients,
		Metrics:       a.metrics,
		Observability: obsCfg,
	}
	if a.logRouter != nil {
		httpCfg.LogStats = a.logRouter.Stats
	}
	a.handler = servernet.NewHTTPHandler(httpCfg)

	return a, nil
}

func newLogRouter(settings config.Config, fallback *log.Logger) (*logging.Router, error) {
	logConfig, err := settings.Logging()
	if err != nil {
		return nil, err
	}

	var sinks []logging.NamedSink
	if logConfig.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)})
	}
	if logConfig.HasSink("json") {
		file, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open json log %s: %w", logConfig.JSON.FilePath, err)
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)})
	}

	return logging.NewRouter(logging.ClockFunc(time.Now), logConfig, fallback, sinks), nil
}

// Handler serves /ws, /health and /diagnostics.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Registry() *scene.Registry {
	return a.registry
}

// Serve accepts connections on listener until ctx is cancelled, then shuts
// the HTTP server down and closes every session.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{Handler: a.handler}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(listener)
	}()
	a.logger.Printf("server listening on %s", listener.Addr())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown. Closing
	// the handler first guarantees no dispatch outlives Serve, so Close can
	// release the store safely.
	wsErr := a.ws.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return wsErr
}

// Close releases the store, flushes traces and drains the logging router.
// It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.ws != nil {
		if err := a.ws.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if a.logRouter != nil {
		if err := a.logRouter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close logging router: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run builds the hub, listens on the configured address and blocks until ctx
// is cancelled.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			a.logger.Printf("shutdown: %v", cerr)
		}
	}()

	listener, err := net.Listen("tcp", cfg.Settings.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Settings.Addr(), err)
	}
	return a.Serve(ctx, listener)
}
