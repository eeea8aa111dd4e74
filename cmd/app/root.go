package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/local/pagegrab/internal/config"
)

const defaultConfigFile = "pagegrab.yaml"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagegrab",
		Short: "Download numbered page images and bind them into a PDF",
		Long: `pagegrab finds how many pages a remote document has, downloads every
page image into a local cache, appends the new ones to a PDF and can
remove a rotated text watermark from the finished file.

Settings come from built-in defaults, then pagegrab.yaml (or --config),
then the environment (a .env file is loaded first), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file (default "+defaultConfigFile+" when present)")
	pf.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")

	pf.StringP("template", "t", "", "page URL template with one placeholder, e.g. https://host/p/{}.png")
	pf.Int("remote-width", 0, "zero-pad width of the page index in the URL")
	pf.Int("upper-bound", 0, "highest page index searched by discovery")
	pf.Duration("probe-delay", 0, "pause after every discovery probe")
	pf.String("cache-dir", "", "directory holding downloaded pages")
	pf.StringP("output", "o", "", "output PDF path")
	pf.String("ledger", "", "ledger file of pages already in the PDF")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewDiscoverCmd())
	cmd.AddCommand(NewAssembleCmd())
	cmd.AddCommand(NewUnwatermarkCmd())
	cmd.AddCommand(NewDoctorCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration: defaults, YAML file, environment
// and finally the flags the user actually set. Commands that never touch
// the page source skip validation.
func loadConfig(cmd *cobra.Command, validate bool) (config.Config, error) {
	flags := cmd.Flags()

	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && flags.Changed("env-file") {
			return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := config.Default()
	path, _ := flags.GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	loaded, err := config.LoadFile(path, cfg)
	switch {
	case err == nil:
		cfg = loaded
	case errors.Is(err, config.ErrConfigNotFound) && !explicit:
	default:
		return cfg, err
	}

	cfg.ApplyEnv()
	applyFlags(flags, &cfg)
	if !validate {
		return cfg, nil
	}
	return cfg, cfg.Validate()
}

func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	str("log-level", &cfg.Logging.Level)
	str("metrics-addr", &cfg.Metrics.Addr)
	str("template", &cfg.Source.Template)
	num("remote-width", &cfg.Source.RemoteWidth)
	num("upper-bound", &cfg.Source.UpperBound)
	if flags.Changed("probe-delay") {
		cfg.Source.ProbeDelay, _ = flags.GetDuration("probe-delay")
	}
	str("cache-dir", &cfg.Cache.Dir)
	str("output", &cfg.Output.PDFPath)
	str("ledger", &cfg.Output.LedgerPath)

	if flags.Lookup("workers") != nil {
		num("workers", &cfg.Worker.Concurrency)
	}
	if flags.Lookup("progress") != nil && flags.Changed("progress") {
		cfg.Worker.Progress, _ = flags.GetBool("progress")
	}
	if flags.Lookup("suffix") != nil {
		str("suffix", &cfg.Output.WatermarkSuffix)
	}
	if flags.Lookup("publish") != nil {
		str("publish", &cfg.Publish.S3URI)
	}
}
