package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"polarcli/internal/services"
	"polarcli/internal/watch"
)

func newWatchCmd(c *cli) *cobra.Command {
	var (
		out      string
		existing bool
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Convert exports as they are dropped into a folder",
		Long: `Watch converts every export written to <dir> once it has been quiet
for the configured debounce interval (batch.debounce). Results go to --out,
or next to the inputs. Stop with Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, shutdown, err := c.core()
			if err != nil {
				return err
			}
			defer shutdown()

			if err := core.Validator.ValidateInputDirectory(args[0]); err != nil {
				return err
			}
			if out != "" {
				if err := core.Validator.ValidateOutputDirectory(out); err != nil {
					return err
				}
			}

			batch := services.BatchOptionsFromConfig(c.cfg, out)
			if workers > 0 {
				batch.Workers = workers
			}
			// no batch report per settled group
			batch.Report = false

			w, err := watch.New(watch.Config{
				Dir:      args[0],
				Debounce: c.cfg.Batch.Debounce,
				Existing: existing,
				Batch:    batch,
			}, core.Discovery, core.NewBatchService(nil), core.Logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", args[0])

			<-ctx.Done()
			w.Stop()

			stats := w.Stats()
			c.logger.Info("Watch stopped",
				slog.Int64("batches", stats.Batches),
				slog.Int64("converted", stats.Converted),
				slog.Int64("failed", stats.Failed))
			fmt.Fprintf(cmd.OutOrStdout(), "%d converted, %d failed\n", stats.Converted, stats.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output directory (default: next to each input)")
	cmd.Flags().BoolVar(&existing, "existing", false, "also convert the exports already in the folder")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel conversions per group (default from config)")
	return cmd
}
