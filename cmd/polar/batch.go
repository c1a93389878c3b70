package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/services"
)

type batchFlags struct {
	out      string
	workers  int
	failFast bool
	noReport bool
}

func newBatchCmd(c *cli) *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch <dir|files...>",
		Short: "Convert many exports in parallel",
		Long: `Batch converts every input found in the given directories, glob
patterns and files. Each file converts independently; a failure is listed
with its diagnosis and does not stop the others unless --fail-fast is set.
A batch_report_<timestamp>.csv is written to --out, or to the reports
directory when results go next to the inputs.`,
		Example: `  polar batch data/ --out results/
  polar batch "runs/*.txt" --workers 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, c, flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.out, "out", "", "output directory (default: next to each input)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "parallel conversions (default from config)")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "stop at the first failed file")
	cmd.Flags().BoolVar(&flags.noReport, "no-report", false, "do not write the batch report CSV")
	return cmd
}

func runBatch(cmd *cobra.Command, c *cli, flags *batchFlags, args []string) error {
	core, shutdown, err := c.core()
	if err != nil {
		return err
	}
	defer shutdown()

	found, err := core.Discovery.Expand(args)
	if err != nil {
		return apperrors.NewIngestionError(apperrors.ReasonFileNotFound, err.Error(), err)
	}
	if len(found) == 0 {
		return apperrors.NewAppValidationError("no input files found").
			WithHint(fmt.Sprintf("Accepted extensions: %v", c.cfg.Ingest.Extensions))
	}
	inputs := make([]string, len(found))
	for i, f := range found {
		inputs[i] = f.Path
	}

	if flags.out != "" {
		if err := core.Validator.ValidateOutputDirectory(flags.out); err != nil {
			return err
		}
	}

	opts := services.BatchOptionsFromConfig(c.cfg, flags.out)
	if flags.workers > 0 {
		opts.Workers = flags.workers
	}
	opts.FailFast = flags.failFast
	opts.Report = !flags.noReport

	report, runErr := core.NewBatchService(nil).Run(cmd.Context(), inputs, opts)
	if report != nil {
		if c.jsonOut {
			if err := c.printJSON(cmd, batchJSON(report)); err != nil {
				return err
			}
		} else {
			printBatch(cmd.OutOrStdout(), report)
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, len(report.Files))
	}
	return nil
}
