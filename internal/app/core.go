package app

import (
	"context"
	"fmt"
	"log/slog"

	"polarcli/internal/config"
	"polarcli/internal/files"
	"polarcli/internal/infrastructure"
	"polarcli/internal/ingest"
	"polarcli/internal/services"
	"polarcli/internal/stokes"
	"polarcli/internal/validation"
	ws "polarcli/internal/websocket"
)

// Core is the conversion stack shared by the CLI commands and the server
type Core struct {
	Config    *config.Config
	Paths     *config.Paths
	Logger    *slog.Logger
	OTel      *infrastructure.OTelProviders
	Metrics   *infrastructure.Metrics
	Resolver  *ingest.Resolver
	Options   stokes.Options
	Validator *validation.FileValidator
	Discovery *files.Discovery
}

// NewCore wires telemetry, the ingest resolver and the engine options
// from cfg. Call Shutdown to flush telemetry.
func NewCore(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.NewMetrics(providers.Meter)
	if err != nil {
		logger.Warn("Metrics instruments unavailable, continuing without them",
			slog.String("error", err.Error()))
		metrics = infrastructure.NoopMetrics()
	}

	resolver := ingest.NewResolver(ingest.OptionsFromConfig(cfg.Ingest),
		ingest.WithLogger(logger),
		ingest.WithMetrics(metrics),
		ingest.WithTracer(providers.Tracer),
	)

	discovery := files.NewDiscovery("", cfg.Ingest.Extensions).
		Exclude(cfg.Export.Suffix).
		ExcludePrefix(services.BatchReportPrefix)

	return &Core{
		Config:    cfg,
		Paths:     paths,
		Logger:    logger,
		OTel:      providers,
		Metrics:   metrics,
		Resolver:  resolver,
		Options:   stokes.OptionsFromConfig(cfg.Engine, cfg.Export),
		Validator: validation.NewFileValidator(cfg.Ingest, logger),
		Discovery: discovery,
	}, nil
}

// NewSession returns a conversion session on the shared stack
func (c *Core) NewSession(options ...stokes.SessionOption) *stokes.Session {
	base := []stokes.SessionOption{
		stokes.WithLogger(c.Logger),
		stokes.WithMetrics(c.Metrics),
		stokes.WithTracer(c.OTel.Tracer),
	}
	return stokes.NewSession(c.Resolver, c.Options, append(base, options...)...)
}

// NewBatchService returns a batch service on the shared stack. b may be nil.
func (c *Core) NewBatchService(b ws.ProgressBroadcaster) *services.BatchService {
	options := []services.BatchOption{
		services.WithBatchMetrics(c.Metrics),
		services.WithBatchTracer(c.OTel.Tracer),
		services.WithReportPaths(c.Paths),
	}
	if b != nil {
		options = append(options, services.WithBroadcaster(b))
	}
	return services.NewBatchService(c.Resolver, c.Options, c.Logger, options...)
}

// Shutdown flushes and stops the telemetry providers
func (c *Core) Shutdown(ctx context.Context) error {
	if c.OTel == nil {
		return nil
	}
	return c.OTel.Shutdown(ctx)
}
