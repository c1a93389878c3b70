package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"polarcli/internal/config"
	"polarcli/internal/stokes"
)

type convertOptions struct {
	output     string
	properties bool
	summary    bool
	strict     bool
}

func newConvertCmd(c *cli) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert one analyzer export to a Stokes CSV",
		Long: `Convert loads an analyzer export, computes S0..S3 for every sample and
writes <name>` + config.Default().Export.Suffix + ` next to the input unless -o is given.`,
		Example: `  polar convert run1.txt
  polar convert run1.txt -o out/run1.csv --properties=false --summary`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, c, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output CSV path")
	cmd.Flags().BoolVar(&opts.properties, "properties", true, "append the derived DOP/azimuth/ellipticity columns")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "print the conversion summary")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "fail on samples that produce non-finite values")
	return cmd
}

func runConvert(cmd *cobra.Command, c *cli, opts *convertOptions, input string) error {
	core, shutdown, err := c.core()
	if err != nil {
		return err
	}
	defer shutdown()

	if err := core.Validator.ValidateInputFile(input); err != nil {
		return err
	}

	if cmd.Flags().Changed("properties") {
		core.Options.IncludeProperties = opts.properties
	}
	if opts.strict {
		core.Options.StrictNumerics = true
	}

	output := opts.output
	if output == "" {
		output = config.OutputPathFor(input, "", c.cfg.Export.Suffix)
	}

	session := core.NewSession(stokes.WithProgress(progressPrinter(cmd)))
	result, err := session.Process(cmd.Context(), input, output)
	if err != nil {
		return err
	}

	if c.jsonOut {
		return c.printJSON(cmd, result)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %d rows to %s (encoding %s)\n", result.Summary.Rows, result.Output, result.Source.Encoding)
	if opts.summary {
		fmt.Fprint(out, result.Summary.String())
	}
	return nil
}
