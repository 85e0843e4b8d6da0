// Package main запускает HTTP-сервер магазина мебели.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/furnishop-system/internal/chain"
	"github.com/mmeshcher/furnishop-system/internal/config"
	"github.com/mmeshcher/furnishop-system/internal/handler"
	"github.com/mmeshcher/furnishop-system/internal/middleware"
	"github.com/mmeshcher/furnishop-system/internal/notifier"
	"github.com/mmeshcher/furnishop-system/internal/rate"
	"github.com/mmeshcher/furnishop-system/internal/repository"
	"github.com/mmeshcher/furnishop-system/internal/service"
	"github.com/mmeshcher/furnishop-system/internal/web3"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var quoteFetcher rate.Fetcher
	if cfg.QuoteSourceAddress != "" {
		quoteFetcher = rate.NewClient(cfg.QuoteSourceAddress)
	}
	rateCache := rate.NewCache(quoteFetcher, cfg.RateRefreshInterval, decimal.NewFromInt(cfg.DefaultUSDTRate))

	chainClient := chain.NewClient(cfg.Networks)

	var emailNotifier service.Notifier
	if cfg.SMTPAddress != "" {
		emailNotifier = notifier.NewEmailNotifier(cfg.SMTPAddress, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	svc := service.NewService(repo, emailNotifier, logger, cfg.FreeShippingThreshold, cfg.ShippingFee)
	defer svc.Close()

	payments := web3.NewService(repo, chainClient, rateCache, logger, web3.Options{
		RecipientWallet: cfg.RecipientWallet,
		SessionTimeout:  cfg.SessionTimeout,
		TxRetention:     cfg.TxRetention,
		TxAbandonAfter:  cfg.TxAbandonAfter,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, payments, logger, authMiddleware, cfg.AdminToken, cfg.WebhookSecret)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой проверки pending-транзакций и очистки реестров
	g.Go(func() error {
		payments.StartBackground(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting furnishop server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
