package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/local/pagegrab/internal/ledger"
	"github.com/local/pagegrab/internal/pages"
	"github.com/local/pagegrab/internal/statuscheck"
	"github.com/local/pagegrab/internal/storage"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the page source, cache dir, Redis ledger and S3 bucket",
		Args:  cobra.NoArgs,
		RunE:  runDoctorCmd,
	}
	cmd.Flags().Bool("json", false, "print the summary as JSON")
	return cmd
}

func runDoctorCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	initLogging(cfg)

	opts := statuscheck.Options{CacheDir: cfg.Cache.Dir}
	if cfg.Source.Template != "" {
		layout := pages.Layout{Template: cfg.Source.Template, RemoteWidth: cfg.Source.RemoteWidth}
		opts.PageURL = layout.Locator(1)
	}
	if cfg.Output.LedgerRedisURL != "" {
		rl, err := ledger.NewRedisLedger(cfg.Output.LedgerRedisURL, cfg.Output.LedgerRedisKey)
		if err != nil {
			opts.Redis = failedPing{err}
		} else {
			defer rl.Close()
			opts.Redis = rl
		}
	}
	if cfg.Publish.S3URI != "" {
		bucket, _, err := storage.ParseURI(cfg.Publish.S3URI)
		if err != nil {
			return err
		}
		opts.S3Bucket = bucket
	}

	summary := statuscheck.New(opts).Summary(cmd.Context())
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		for _, row := range []struct {
			name string
			st   statuscheck.Status
		}{
			{"source", summary.Source},
			{"cache", summary.Cache},
			{"redis", summary.Redis},
			{"s3", summary.S3},
		} {
			mark := "ok"
			if !row.st.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(out, "%-7s %-4s %s\n", row.name, mark, row.st.Message)
		}
	}
	if !summary.OK() {
		return errors.New("some checks failed")
	}
	return nil
}

// failedPing reports a connection error found before the check ran.
type failedPing struct{ err error }

func (f failedPing) Ping(context.Context) error { return f.err }
