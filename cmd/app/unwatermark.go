package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/local/pagegrab/internal/orchestrator"
)

// NewUnwatermarkCmd creates the unwatermark command.
func NewUnwatermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unwatermark <pdf> <text>",
		Short: "Write a copy of a PDF with a rotated text watermark painted over",
		Long: `Unwatermark finds every rotated occurrence of the given text, groups
nearby occurrences and paints white boxes over them. Pure red or blue
images are painted over as well. The input is never modified; the result
is written next to it with the "_no_watermark" suffix.

The PDF may be a local path, a file://, http(s):// or s3:// reference;
remote documents are downloaded into --download-dir first.

Examples:
  pagegrab unwatermark output.pdf CONFIDENTIAL
  pagegrab unwatermark s3://books/scans/output.pdf DRAFT --publish s3://books/clean`,
		Args: cobra.ExactArgs(2),
		RunE: runUnwatermarkCmd,
	}
	cmd.Flags().String("download-dir", ".", "directory for downloaded remote documents")
	cmd.Flags().String("suffix", "", "file name suffix of the cleaned PDF")
	cmd.Flags().String("publish", "", "upload the cleaned PDF to s3://bucket/prefix")
	return cmd
}

func runUnwatermarkCmd(cmd *cobra.Command, args []string) error {
	ref, text := args[0], args[1]
	dir, _ := cmd.Flags().GetString("download-dir")

	return withApp(cmd, false, func(ctx context.Context, a *app) error {
		path, err := orchestrator.ResolveDocument(ctx, newClient(a.cfg), ref, dir)
		if err != nil {
			return err
		}
		res, _, err := a.orch.Unwatermark(ctx, path, text)
		if err != nil {
			return err
		}
		return a.publish(ctx, res.Output, map[string]string{"source": filepath.Base(path)})
	})
}
