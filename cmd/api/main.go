package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vos/internal/api"
	"vos/internal/app"
	"vos/internal/config"
	"vos/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
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
		addr     string
	)

	cmd := &cobra.Command{
		Use:           "vos-api",
		Short:         "Document review API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(envFile)
			cfg := config.Load()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if addr != "" {
				cfg.APIAddr = addr
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address override")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vos-api version %s\n", api.Version)
		},
	})

	return cmd
}

func run(cfg config.Config) error {
	log := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           a.APIServer().Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.APIAddr).
			Str("llm_providers", cfg.LLMProviders).
			Bool("temporal", cfg.TemporalEnabled).
			Msg("vos api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.Close()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight reviews did not finish before shutdown")
	}
	return nil
}
