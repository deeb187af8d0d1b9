package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/logging"
	"github.com/cysecmato/cysecmato/internal/metrics"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile     string
	verbose     bool
	metricsAddr string
	logger      *logrus.Logger
	cfg         *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err, verbose))
		os.Exit(exitCode(err))
	}
}

// errorText adds kind, context and stack for typed errors under --verbose
func errorText(err error, verbose bool) string {
	var typed *errors.Error
	if verbose && stderrors.As(err, &typed) {
		return "Error: " + typed.DetailedString()
	}
	return fmt.Sprintf("Error: %v", err)
}

var rootCmd = &cobra.Command{
	Use:   "cysecmato",
	Short: "Map cybersecurity controls across catalogs",
	Long: `cysecmato embeds control descriptions, scores them against other catalogs
in a Neo4j graph, asks an LLM to classify promising pairs and walks each
mapping through human review.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(logging.Config{
			Level:      logging.ParseLevel(level),
			OutputFile: cfg.Logging.File,
			JSONFormat: cfg.Logging.JSON,
		}); err != nil {
			return err
		}

		addr := metricsAddr
		if addr == "" && cfg.Metrics.Enabled {
			addr = cfg.Metrics.Address
		}
		if addr != "" {
			go func() {
				if err := metrics.Serve(cmd.Context(), addr); err != nil {
					logger.WithError(err).Warn("Metrics endpoint stopped")
				}
			}()
			logger.Debugf("Serving metrics on %s/metrics", addr)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .cysecmato/config.yaml or ~/.cysecmato/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	rootCmd.SetVersionTemplate(`cysecmato {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(catalogsCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(similarityCmd)
	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(ragCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(cacheCmd)
}

// exitCode maps error kinds onto process exit codes
func exitCode(err error) int {
	switch errors.GetType(err) {
	case errors.ErrorTypeConfig:
		return 2
	case errors.ErrorTypeValidation:
		return 3
	case errors.ErrorTypeNotFound:
		return 4
	case errors.ErrorTypeUnavailable, errors.ErrorTypeCapabilityMissing:
		return 5
	default:
		return 1
	}
}
