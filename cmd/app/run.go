package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pagegrab/internal/assembler"
	"github.com/local/pagegrab/internal/config"
	"github.com/local/pagegrab/internal/orchestrator"
)

// NewRunCmd creates the run command: the whole pipeline.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover, download, assemble and optionally clean the PDF",
		Long: `Run executes the whole pipeline:

  1. binary search for the number of pages
  2. download every page not yet cached
  3. append the pages missing from the ledger to the PDF
  4. check the PDF, then ask whether to delete the cache and whether to
     remove a watermark (skip the questions with --delete-cache and
     --watermark)

Examples:
  pagegrab run -t 'https://host/content/book%s.png'
  pagegrab run -t 'https://host/p/{}.png' --delete-cache=no --watermark-text CONFIDENTIAL`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}
	addPipelineFlags(cmd)
	cmd.Flags().Bool("append", false, "add new pages after the existing PDF instead of rewriting it")
	cmd.Flags().String("delete-cache", "ask", "delete downloaded pages after a successful run: ask, yes or no")
	cmd.Flags().String("watermark", "ask", "remove a watermark from the PDF: ask, yes or no")
	cmd.Flags().String("watermark-text", "", "watermark text to remove; implies --watermark=yes")
	cmd.Flags().String("suffix", "", "file name suffix of the cleaned PDF")
	cmd.Flags().String("publish", "", "upload the artifacts to s3://bucket/prefix")
	return cmd
}

// NewDiscoverCmd creates the discover command.
func NewDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print how many pages the remote document has",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				_, _, err := a.orch.Discover(ctx)
				return err
			})
		},
	}
}

// NewAssembleCmd creates the assemble command, which only binds pages
// already in the cache.
func NewAssembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Append cached pages missing from the ledger to the PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				if _, err := a.orch.Assemble(ctx); err != nil && !errors.Is(err, assembler.ErrNothingToDo) {
					return err
				}
				_, err := a.orch.Check(ctx)
				return err
			})
		},
	}
	cmd.Flags().Bool("append", false, "add new pages after the existing PDF instead of rewriting it")
	return cmd
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("workers", "w", 0, "parallel downloads (default NumCPU+4, at most 32)")
	cmd.Flags().Bool("progress", false, "show a progress bar on stderr")
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, true, func(ctx context.Context, a *app) error {
		s, err := a.orch.Run(ctx)
		if err != nil {
			return err
		}
		if failed := s.Report.Failed(); len(failed) > 0 {
			log.Warn().Int("failed", len(failed)).Msg("Some pages could not be downloaded")
		}
		return nil
	})
}

// withApp loads the configuration, builds the app for cmd and runs fn
// under a context cancelled by SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, validate bool, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig(cmd, validate)
	if err != nil {
		return err
	}
	opts, err := commandOptions(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, opts, newStdinPrompter(cmd.InOrStdin(), cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// commandOptions adds the per-command flags to the configured options.
func commandOptions(cmd *cobra.Command, cfg config.Config) (orchestrator.Options, error) {
	opts := pipelineOptions(cfg)
	flags := cmd.Flags()
	opts.DeleteCache, opts.Watermark = orchestrator.No, orchestrator.No

	if f := flags.Lookup("append"); f != nil {
		opts.Append, _ = flags.GetBool("append")
	}
	if f := flags.Lookup("delete-cache"); f != nil {
		c, err := parseChoice(f.Value.String())
		if err != nil {
			return opts, fmt.Errorf("--delete-cache: %w", err)
		}
		opts.DeleteCache = c
	}
	if f := flags.Lookup("watermark"); f != nil {
		c, err := parseChoice(f.Value.String())
		if err != nil {
			return opts, fmt.Errorf("--watermark: %w", err)
		}
		opts.Watermark = c
		opts.WatermarkText, _ = flags.GetString("watermark-text")
		if opts.WatermarkText != "" && !f.Changed {
			opts.Watermark = orchestrator.Yes
		}
	}
	return opts, nil
}

func parseChoice(s string) (orchestrator.Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ask":
		return orchestrator.Ask, nil
	case "y", "yes", "true":
		return orchestrator.Yes, nil
	case "n", "no", "false":
		return orchestrator.No, nil
	}
	return orchestrator.Ask, fmt.Errorf("want ask, yes or no, got %q", s)
}
