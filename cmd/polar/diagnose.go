package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/ingest"
)

func newDiagnoseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <file>",
		Short: "Classify the encoding of an export",
		Long: `Diagnose inspects the leading bytes of a file (BOM, NUL and non-ASCII
byte ratios, UTF-8 validity) and suggests how to make it loadable. It does
not parse the table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return apperrors.NewIngestionError(apperrors.ReasonFileNotFound,
					fmt.Sprintf("cannot read %s", args[0]), err)
			}
			diag := ingest.Diagnose(data)
			if c.jsonOut {
				return c.printJSON(cmd, diag)
			}
			fmt.Fprint(cmd.OutOrStdout(), diag.String())
			return nil
		},
	}
}
