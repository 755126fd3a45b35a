package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coffersTech/callspy/internal/config"
)

var (
	cfg        config.Config
	configPath string
	logLevel   string
	capacity   int
)

var rootCmd = &cobra.Command{
	Use:   "callspy",
	Short: "Record, search and replay calls crossing the client/server boundary",
	Long: `callspy attaches to a host object graph, records every boundary call as
one line of text, and turns any recorded line back into a call or a
standalone replay script.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("capacity") {
			cfg.Capacity = capacity
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "callspy.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().IntVar(&capacity, "capacity", 0, "log lines kept before the oldest is evicted")

	rootCmd.AddCommand(demoCmd, serveCmd, decodeCmd, replayCodeCmd, searchCmd, pushCmd, dumpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
