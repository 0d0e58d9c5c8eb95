package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"vos/internal/activities"
	"vos/internal/api"
	"vos/internal/app"
	"vos/internal/config"
	"vos/internal/logging"
	"vos/internal/workflows"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		envFile  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "vos-worker",
		Short:         "Temporal worker for durable document reviews",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(envFile)
			cfg := config.Load()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			cfg.TemporalEnabled = true
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vos-worker version %s\n", api.Version)
		},
	})

	return cmd
}

func run(cfg config.Config) error {
	log := logging.New(cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a, err := app.Build(ctx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()

	w := worker.New(a.Temporal, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: max(cfg.MaxConcurrentPersonas, 0),
	})
	workflows.Register(w)
	activities.Register(w, a.Activities)

	log.Info().
		Str("temporal", cfg.TemporalAddress).
		Str("queue", cfg.TemporalTaskQueue).
		Str("llm_providers", cfg.LLMProviders).
		Msg("vos worker listening")
	return w.Run(worker.InterruptCh())
}
