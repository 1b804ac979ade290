package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"auditlog/config"
)

// NewRootCommand builds the auditlog command tree.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "auditlog",
		Short:         "Audit log storage on a search engine",
		Long:          "Indexes record change events into a search engine index and serves them back per record.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("AUDITLOG_CONFIG"), "Path to a YAML config file")

	load := func() (config.Config, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return cfg, err
		}
		setupLogger(cfg.Log)
		return cfg, nil
	}

	root.AddCommand(setupCmd(load))
	root.AddCommand(serveCmd(load))
	root.AddCommand(workerCmd(load))
	return root
}

// Execute runs the root command and reports whether it succeeded.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		return err
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
