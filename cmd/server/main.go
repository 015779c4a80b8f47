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

	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"

	"github.com/andy6609/chathub/internal/chat"
	"github.com/andy6609/chathub/internal/config"
	"github.com/andy6609/chathub/internal/moderation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	mask, err := cfg.CensorRune()
	if err != nil {
		return err
	}
	censor, err := moderation.NewCensor(cfg.Words(), mask)
	if err != nil {
		return fmt.Errorf("build censor: %w", err)
	}

	srv := chat.NewServer(chat.Options{
		Addr:            cfg.Addr(),
		MaxMessageSize:  cfg.MaxMessageSize,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Censor:          censor,
	}, logger)
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})

	if cfg.MetricsEnabled() {
		metrics := chat.NewMetricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info("metrics endpoint started", "addr", cfg.MetricsAddr)
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return metrics.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("program stopped cleanly")
	return nil
}
