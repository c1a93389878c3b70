package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"polarcli/internal/app"
	"polarcli/internal/config"
	apperrors "polarcli/internal/errors"
	"polarcli/internal/infrastructure"
	"polarcli/pkg/contracts"
)

// cli carries the state shared by every subcommand
type cli struct {
	configFile string
	logLevel   string
	jsonOut    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "polar",
		Short: "Stokes parameter converter for polarization analyzer exports",
		Long: `polar converts polarization analyzer exports (intensity, DOP, azimuth
and polarization extinction ratio per sample) into normalized Stokes
parameters and writes them as UTF-8 CSV with a BOM.

Exports in GBK, GB2312, UTF-16 and other legacy encodings are detected
automatically. Use "polar diagnose" when a file refuses to load.`,
		Version:           contracts.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetVersionTemplate(contracts.GetFullVersionString() + "\n")

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: polar.yaml or configs/polar.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newConvertCmd(c),
		newSummaryCmd(c),
		newBatchCmd(c),
		newTranscodeCmd(c),
		newDiagnoseCmd(c),
		newWatchCmd(c),
		newServeCmd(c),
		newVersionCmd(c),
	)
	return root
}

// setup loads the configuration and a console logger on stderr
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return apperrors.NewConfigError(err.Error(), err).
			WithHint("Check the file given with --config and any POLAR_* environment variables")
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", c.logLevel, err)
		}
	}
	c.cfg = cfg
	c.logger = infrastructure.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	return nil
}

// core builds the conversion stack. The returned func flushes telemetry.
func (c *cli) core() (*app.Core, func(), error) {
	core, err := app.NewCore(c.cfg, c.logger)
	if err != nil {
		return nil, nil, err
	}
	return core, func() {
		if err := core.Shutdown(context.Background()); err != nil {
			c.logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}

// printJSON writes v indented to the command's output
func (c *cli) printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
