package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"polarcli/internal/ingest"
)

func newTranscodeCmd(c *cli) *cobra.Command {
	var (
		dryRun    bool
		encodings []string
	)
	cmd := &cobra.Command{
		Use:   "transcode <file>",
		Short: "Rewrite a legacy-encoded export as UTF-8",
		Long: `Transcode decodes an export with the first legacy encoding that fits
and rewrites it in place as UTF-8. The original is kept as <file>` + ingest.BackupSuffix + `.
Files that are already UTF-8 are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ingest.Transcode(args[0], ingest.TranscodeOptions{
				Encodings: encodings,
				DryRun:    dryRun,
			})
			if err != nil {
				return err
			}
			c.logger.Debug("Transcode finished",
				slog.String("path", result.Path),
				slog.String("encoding", result.Encoding),
				slog.Bool("changed", result.Changed))

			if c.jsonOut {
				return c.printJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			switch {
			case result.Encoding == ingest.EncodingUTF8:
				fmt.Fprintf(out, "%s is already %s, nothing to do\n", result.Path, result.Encoding)
			case result.DryRun:
				fmt.Fprintf(out, "%s would be converted from %s to utf-8\n", result.Path, result.Encoding)
			default:
				fmt.Fprintf(out, "%s converted from %s to utf-8 (backup %s)\n", result.Path, result.Encoding, result.BackupPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the detected encoding without writing")
	cmd.Flags().StringSliceVar(&encodings, "encoding", nil, "encodings to try, in order (default gbk,gb2312,latin-1,cp1252)")
	return cmd
}
