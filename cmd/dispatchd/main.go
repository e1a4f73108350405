// README: Entry point; loads config, wires the lifecycle engine, starts the bot and the HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dispatch/internal/bot"
	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/logger"
	"dispatch/internal/modules/dedup"
	"dispatch/internal/modules/feed"
	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/undo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	zl, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		zl.Fatal("DISPATCH_TG_TOKEN is required")
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		zl.Fatal("db init failed", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer func() { _ = redisClient.Close() }()

	tg, err := infra.NewTelegram(cfg.Telegram.Token)
	if err != nil {
		zl.Fatal("telegram init failed", zap.Error(err))
	}

	var priceSvc order.Pricing
	if cfg.Maps.APIKey != "" {
		p, err := pricing.NewService(cfg.Maps.APIKey, "kz")
		if err != nil {
			zl.Fatal("maps init failed", zap.Error(err))
		}
		priceSvc = p
	} else {
		zl.Warn("DISPATCH_MAPS_KEY unset, orders will be created unpriced")
	}

	orderStore := order.NewStore(dbPool, redisClient, zl)
	sync := feed.NewSynchronizer(orderStore,
		feed.NewTelegramTransport(tg),
		feed.StaticDestinations(cfg.Telegram.Feeds), zl)
	orderSvc := order.NewService(orderStore, priceSvc, undo.NewTracker(), sync, cfg.Dispatch.UndoTTL, zl)

	identityStore := identity.NewStore(dbPool)
	guard := dedup.NewGuard(redisClient, cfg.Dispatch.DedupTTL, zl)

	dispatchBot := bot.New(tg, orderSvc, identityStore, guard, zl)
	orderSvc.SetNotifier(dispatchBot)
	go dispatchBot.Run(ctx)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httptransport.NewRouter(orderSvc, zl),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	zl.Info("dispatch listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal("http server failed", zap.Error(err))
	}
}
