// Package cli provides the command-line interface for the crawler.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/pkg/config"
	"github.com/user/patentscope-crawler/pkg/logger"
	"github.com/user/patentscope-crawler/pkg/metrics"
)

// Version is set at build time.
var Version = "1.0.0"

var (
	envFile string

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "patentscope",
	Short: "Headless-browser extractor for PATENTSCOPE documents",
	Long: `patentscope renders WIPO PATENTSCOPE detail pages in headless Chrome and
extracts bibliographic data from them.

Run "serve" for the HTTP API with background batch jobs, or "extract" to
fetch documents straight from the command line.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFile(envFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, err = logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		metrics.Init()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file read before the environment")
	rootCmd.AddCommand(serveCmd, extractCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
