package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentor0/mentor/internal/chunker"
	"github.com/mentor0/mentor/internal/config"
	"github.com/mentor0/mentor/internal/database"
	"github.com/mentor0/mentor/internal/engine"
	"github.com/mentor0/mentor/internal/index"
	"github.com/mentor0/mentor/internal/llm"
	"github.com/mentor0/mentor/internal/log"
	"github.com/mentor0/mentor/internal/provider"
	"github.com/mentor0/mentor/internal/server"
	"github.com/mentor0/mentor/internal/session"
	"github.com/mentor0/mentor/internal/token"
	"github.com/mentor0/mentor/internal/window"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})
	logger.Info("starting mentor", "version", AppVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := database.Migrate(ctx, cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	client, embedder, err := llm.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing llm: %w", err)
	}

	counter := token.NewCounter(cfg.TokenizerEncoding, logger)

	idx := index.New(index.NewPGQuerier(pool), embedder, logger,
		index.WithEmbedTimeout(cfg.EmbedTimeout),
		index.WithSearchTimeout(cfg.SearchTimeout))

	sessions := session.New(idx, cfg.SessionIdleTimeout, cfg.SessionSweepInterval, logger)

	eng := engine.New(
		engine.Config{
			SystemPrompt:       cfg.SystemPrompt,
			Provider:           provider.ParseID(cfg.Provider),
			Model:              cfg.ModelName,
			HistoryTokenBudget: cfg.HistoryTokenBudget,
			SearchTopK:         cfg.SearchTopK,
			LLMTimeout:         cfg.LLMTimeout,
		},
		sessions,
		chunker.New(counter, cfg.ChunkTargetTokens, cfg.ChunkOverlapTokens, logger),
		idx,
		window.New(counter, cfg.RecentWindowMessages, cfg.ResponseReserveTokens, window.Weights{
			Recency: cfg.RecencyWeight,
			Overlap: cfg.OverlapWeight,
			Role:    cfg.RoleWeight,
		}),
		client,
		counter,
		logger,
	)

	srv := server.New(eng, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
