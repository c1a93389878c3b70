package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"polarcli/internal/app"
	"polarcli/internal/config"
	"polarcli/internal/infrastructure"
)

func newServeCmd(c *cli) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion service",
		Long: `Serve exposes conversion sessions over HTTP under /api/v1/sessions,
progress over a WebSocket at /ws and Prometheus metrics at /metrics.
Logs follow the logging section of the config; a relative
logging.file_path is placed in the logs directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port > 0 {
				c.cfg.Server.Port = port
				if err := c.cfg.Validate(); err != nil {
					return err
				}
			}

			paths, err := config.ResolvePaths(c.cfg.Paths)
			if err != nil {
				return err
			}
			if c.cfg.Logging.FilePath != "" {
				c.cfg.Logging.FilePath = paths.GetLogPath(c.cfg.Logging.FilePath)
			}

			logger, err := infrastructure.InitializeLogger(c.cfg.Logging)
			if err != nil {
				return err
			}
			defer infrastructure.CloseLogFile()
			c.logger = logger

			core, err := app.NewCore(c.cfg, logger)
			if err != nil {
				return err
			}
			application, err := app.New(core)
			if err != nil {
				core.Shutdown(cmd.Context())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting polar server", slog.Int("port", c.cfg.Server.Port))
			return application.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}
