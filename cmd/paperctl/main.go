// Package main is the entry point for paperctl, the command-line front end of
// the paper acquisition pipeline. It resolves availability, searches PubMed,
// fetches single PDFs, runs batches into zip archives, and manages the
// batch history schema.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/helixir/paper-acquisition-service/internal/app"
	"github.com/helixir/paper-acquisition-service/internal/config"
	"github.com/helixir/paper-acquisition-service/internal/observability"
)

// version is set at build time via ldflags.
var version = "dev"

// cli carries state shared by subcommands once the root pre-run has loaded
// configuration.
type cli struct {
	v      *viper.Viper
	cfg    *config.Config
	logger zerolog.Logger
}

// components builds the acquisition pipeline without metrics or sinks.
func (c *cli) components() *app.Components {
	return app.New(c.cfg, c.logger, nil)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "paperctl",
		Short: "Find and download scholarly PDFs",
		Long: `paperctl drives the paper acquisition pipeline from the command line.

Configuration comes from config.yaml, PAPERACQ_* environment variables and
an optional .env file, with flags taking precedence. Results are written to
stdout as YAML so they can be piped between commands:

  paperctl search "melanoma AND immunotherapy" > papers.yaml
  paperctl batch -i papers.yaml -o papers.zip`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: ./config.yaml, ./config/config.yaml)")
	flags.String("env-file", ".env", "dotenv file loaded before configuration")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("email", "", "contact email sent to Unpaywall")
	_ = c.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("unpaywall.email", flags.Lookup("email"))

	root.AddCommand(
		newResolveCmd(c),
		newSearchCmd(c),
		newFetchCmd(c),
		newBatchCmd(c),
		newMigrateCmd(c),
	)
	return root
}

// load reads the dotenv file and configuration, then builds the logger.
func (c *cli) load(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
	}

	cfg, err := config.LoadWith(c.v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	// stdout carries command output, so logs always go to stderr.
	logCfg := app.LoggingConfig(cfg)
	logCfg.Format = "console"
	c.logger = observability.NewLoggerTo(cmd.ErrOrStderr(), logCfg).With().Str("component", "paperctl").Logger()

	if cfg.Unpaywall.Email == "" {
		c.logger.Debug().Msg("no unpaywall email configured; set --email or PAPERACQ_UNPAYWALL_EMAIL")
	}
	return nil
}
