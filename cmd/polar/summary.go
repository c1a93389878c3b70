package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"polarcli/pkg/contracts/domain"
)

func newSummaryCmd(c *cli) *cobra.Command {
	var tolerance float64
	cmd := &cobra.Command{
		Use:   "summary <file>",
		Short: "Print statistics and the round-trip check of an export",
		Long: `Summary converts an export in memory, prints per-parameter statistics
and re-derives DOP and azimuth from the Stokes vector to compare them with
the measured values. Nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, shutdown, err := c.core()
			if err != nil {
				return err
			}
			defer shutdown()

			if err := core.Validator.ValidateInputFile(args[0]); err != nil {
				return err
			}
			if tolerance > 0 {
				core.Options.RoundTripTolerance = tolerance
			}

			ctx := cmd.Context()
			session := core.NewSession()
			if _, err := session.Load(ctx, args[0]); err != nil {
				return err
			}
			if _, err := session.Convert(ctx); err != nil {
				return err
			}
			report, err := session.RoundTrip(ctx)
			if err != nil {
				return err
			}

			if c.jsonOut {
				summary, err := session.Summary()
				if err != nil {
					return err
				}
				return c.printJSON(cmd, struct {
					Summary   domain.ConversionSummary `json:"summary"`
					RoundTrip *domain.RoundTripReport  `json:"round_trip"`
					Passed    bool                     `json:"passed"`
				}{summary, report, report.Passed()})
			}
			text, err := session.SummaryText()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, text)
			fmt.Fprintln(out)
			fmt.Fprint(out, report.String())
			return nil
		},
	}
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "round-trip tolerance (default from config)")
	return cmd
}
