package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/files"
	customMiddleware "polarcli/internal/middleware"
	"polarcli/internal/services"
	handlers "polarcli/internal/transport/http"
	ws "polarcli/internal/websocket"
	"polarcli/pkg/contracts"
)

// Application is the HTTP service container
type Application struct {
	*Core

	Router       *chi.Mux
	Server       *http.Server
	WebSocketHub *ws.Hub
	Uploads      *files.Manager
	Services     *ServiceContainer
	ErrorHandler *apperrors.ErrorHandler

	listener    net.Listener
	serveErr    chan error
	stopJanitor chan struct{}
	janitorDone chan struct{}
	stopOnce    sync.Once
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Sessions *services.SessionService
	Batch    *services.BatchService
	Health   *services.HealthService
}

// New creates the application on core. The hub is started; nothing
// listens until Start.
func New(core *Core) (*Application, error) {
	if err := core.Paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	core.Paths.LogPathResolution(core.Logger)

	a := &Application{
		Core:         core,
		ErrorHandler: apperrors.NewErrorHandler(core.Logger, core.Config.Logging.Development),
	}
	a.initializeServices()
	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() {
	hub := ws.NewHub(a.Logger, a.Metrics)
	hub.Start()
	a.WebSocketHub = hub

	a.Uploads = files.NewManager(a.Paths, a.Logger)

	sessions := services.NewSessionService(a.Resolver, a.Options, a.Uploads, a.Config.Server.MaxUploadBytes, a.Logger,
		services.WithSessionBroadcaster(hub),
		services.WithSessionTelemetry(a.Metrics, a.OTel.Tracer),
		services.WithUploadFilter(a.Validator.ExtensionAllowed),
	)

	a.Services = &ServiceContainer{
		Sessions: sessions,
		Batch:    a.NewBatchService(hub),
		Health:   services.NewHealthService(a.Paths, hub, sessions, a.Logger),
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	// Minimal middleware first; the websocket route must not get a wrapped
	// ResponseWriter
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger))
	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTel.PrometheusHTTP, a.ErrorHandler))

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer → Timeout
		r.Use(customMiddleware.NewOTelMiddleware(a.OTel.Tracer, a.Metrics).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.ErrorHandler))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Server.AllowedOrigins,
			Logger:         a.Logger,
		}))

		if a.Config.Server.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Server.RateLimit.RPS,
				a.Config.Server.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			healthHandler := handlers.NewHealthHandler(a.Services.Health, a.WebSocketHub, a.Logger)
			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/health/live", healthHandler.LivenessCheck)
			r.Get("/version", healthHandler.Version)
			r.Get("/stats", healthHandler.Stats)

			logHandler := handlers.NewClientLogHandler(customMiddleware.NewValidator(a.Logger), a.Logger, a.ErrorHandler)
			r.Post("/v1/logs", logHandler.Handle)
		})

		// Uploads and conversions may run long
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.OperationTimeout, a.Logger))

			sessionHandler := handlers.NewSessionHandler(a.Services.Sessions, handlers.SessionHandlerOptions{
				ExportSuffix:      a.Config.Export.Suffix,
				IncludeProperties: a.Config.Export.IncludeProperties,
			}, a.Logger, a.ErrorHandler)
			r.Mount("/v1/sessions", sessionHandler.Routes())
		})
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start listens on the configured port and serves in the background
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln in the background and starts the session janitor
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.listener = ln
	a.serveErr = make(chan error, 1)

	if removed, err := a.Uploads.PruneUploads(a.Config.Server.SessionTTL, nil); err != nil {
		a.Logger.WarnContext(ctx, "Failed to prune stale uploads", slog.String("error", err.Error()))
	} else if removed > 0 {
		a.Logger.InfoContext(ctx, "Removed uploads left by a previous run", slog.Int("count", removed))
	}
	a.startJanitor()

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("version", contracts.Version),
		slog.String("address", ln.Addr().String()),
		slog.String("level", a.Config.Logging.Level))
	return nil
}

// Addr returns the listening address once started
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run serves until ctx is done or the server fails, then shuts down
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Stop(context.Background())
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("Shutdown requested")
	case serveErr = <-a.serveErr:
		if serveErr != nil {
			a.Logger.Error("Server error", slog.String("error", serveErr.Error()))
		}
	}

	if err := a.Stop(context.Background()); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// Stop gracefully stops the application. It is safe to call more than once.
func (a *Application) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "Shutting down application")

		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		if a.listener != nil {
			if serr := a.Server.Shutdown(shutdownCtx); serr != nil {
				err = fmt.Errorf("server shutdown error: %w", serr)
			}
		}

		a.stopJanitorLoop()
		a.WebSocketHub.Stop()
		a.Services.Sessions.Close()

		if oerr := a.Shutdown(shutdownCtx); oerr != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", oerr.Error()))
		}

		a.Logger.InfoContext(ctx, "Application shutdown complete")
	})
	return err
}

// startJanitor expires sessions idle for SessionTTL and uploads no live
// session owns. A zero SessionTTL keeps sessions until deleted.
func (a *Application) startJanitor() {
	ttl := a.Config.Server.SessionTTL
	if ttl <= 0 || a.stopJanitor != nil {
		return
	}
	a.stopJanitor = make(chan struct{})
	a.janitorDone = make(chan struct{})

	go func() {
		defer close(a.janitorDone)
		ticker := time.NewTicker(janitorInterval(ttl))
		defer ticker.Stop()

		for {
			select {
			case <-a.stopJanitor:
				return
			case <-ticker.C:
				a.sweep(context.Background(), ttl)
			}
		}
	}()
}

// sweep runs one janitor pass. Sessions expire first so their uploads
// go in the same pass.
func (a *Application) sweep(ctx context.Context, ttl time.Duration) {
	a.Services.Sessions.Expire(ctx, ttl)
	if _, err := a.Uploads.PruneUploads(ttl, a.Services.Sessions.OwnsUpload); err != nil {
		a.Logger.WarnContext(ctx, "Failed to prune uploads", slog.String("error", err.Error()))
	}
}

func (a *Application) stopJanitorLoop() {
	if a.stopJanitor == nil {
		return
	}
	close(a.stopJanitor)
	<-a.janitorDone
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}
