package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/plugin-quickstart/shared/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	configPathEnv     = "QUICKSTART_CONFIG_PATH"
	defaultConfigPath = "configs/quickstart/config.yaml"
)

func main() {
	if err := run(); err != nil {
		logger.NewDefault().Error("Quickstart failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath   string
	templatesDir string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	defaultPath := os.Getenv(configPathEnv)
	if defaultPath == "" {
		defaultPath = defaultConfigPath
	}

	rootCmd := &cobra.Command{
		Use:           "quickstart",
		Short:         "Generate blank audio plugin projects from a template tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", defaultPath, "Path to configuration file (env "+configPathEnv+")")
	rootCmd.PersistentFlags().StringVar(&flags.templatesDir, "templates", "", "Template root directory, overrides templates.root_dir")

	rootCmd.AddCommand(
		newGenerateCmd(flags),
		newBatchCmd(flags),
		newInfoCmd(flags),
	)

	return rootCmd
}
