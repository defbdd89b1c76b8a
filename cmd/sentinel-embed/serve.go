package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/config"
	"github.com/raaihank/sentinel-embed/internal/logger"
	"github.com/raaihank/sentinel-embed/internal/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve embeddings, similarity and vector search over HTTP",
	RunE:  runServe,
}

var (
	servePort  int
	serveWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the log level when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	log := globalLogger
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	svc, err := initializeServices(cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.cleanup()

	opts := server.Options{Version: version}
	if svc.vectorStore != nil {
		opts.Store = svc.vectorStore
	}
	if svc.embeddingCache != nil {
		opts.Cache = svc.embeddingCache
	}
	srv := server.New(cfg, log, svc.embeddingService, opts)

	if serveWatch && globalLoader.ConfigFile() != "" {
		pinned := cmd.Flags().Changed("log-level")
		err := globalLoader.Watch(log.Logger, func(newCfg *config.Config) {
			reloadLogLevel(log, newCfg, pinned)
		})
		if err != nil {
			log.Warn("Config watch disabled", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info("Shutting down server...", zap.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Server exited")
	return nil
}

// reloadLogLevel applies the level from a reloaded config unless --log-level pinned it
func reloadLogLevel(log *logger.Logger, newCfg *config.Config, pinned bool) {
	if pinned {
		log.Info("Configuration reloaded, keeping log level set by flag", zap.String("log_level", log.Level()))
		return
	}
	if err := log.SetLevel(newCfg.Logging.Level); err != nil {
		log.Warn("Ignoring invalid log level from reloaded config", zap.Error(err))
		return
	}
	log.Info("Configuration reloaded", zap.String("log_level", log.Level()))
}
