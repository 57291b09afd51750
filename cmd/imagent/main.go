// Package main provides the imagent binary entry point.
// Imagent is an automated image-editing agent driven by work-tracker
// webhooks: it enhances an edit request per candidate model, fans out
// generation, validates the results, and iterates until the edit passes or a
// human needs to take over.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/imagent/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "imagent"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "imagent",
		Short: "Automated image-editing agent",
		Long: `Imagent receives work-tracker webhooks and produces edited images
through an iterative quality-controlled pipeline.

It provides:
- Per-model prompt enhancement steered by hot-swappable documents
- Parallel image generation across candidate edit models
- Sequential vision-model validation with adaptive retries
- Fallback to decomposed sequential edits and to human review

Configuration resolves environment variables over the YAML file over
bundled defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func serve(configPath, logLevel string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("Imagent ready",
		"version", Version,
		"addr", cfg.Server.Addr)

	return app.Run()
}
