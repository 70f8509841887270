package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/bootstrap"
	"github.com/ariefcatur/go-marketplace-ledger/internal/config"
	"github.com/ariefcatur/go-marketplace-ledger/internal/httpx"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/ariefcatur/go-marketplace-ledger/internal/outbox"
	"github.com/ariefcatur/go-marketplace-ledger/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	logger := observability.NewLogger(cfg.ServiceName)
	defer logger.Sync()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err != nil {
		logger.Fatal(ctx, "config", err)
	}

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "store", err)
	}
	defer closeStore()

	// Redis backs the balance cache and idempotency keys; the API keeps
	// serving without them.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	h := &httpx.LedgerHandler{
		Verifier: auth.NewVerifier(cfg.JWTSecret, 24*time.Hour),
		Logger:   logger,
	}
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.WarnWithError(ctx, "redis unavailable, cache and idempotency keys disabled", err)
	} else {
		h.Cache = redisx.NewBalanceCache(rdb)
		h.Idem = redisx.NewIdempotency(rdb)
	}

	h.Ledger = ledger.NewService(store, logger,
		ledger.WithRetry(cfg.LedgerMaxAttempts, cfg.LedgerBackoffBase),
		ledger.WithProducer(cfg.ServiceName),
	)

	// an in-memory outbox is only visible to this process
	if cfg.StoreDriver == config.DriverMemory {
		pub, closePub, err := bootstrap.OpenPublisher(ctx, cfg, logger)
		if err != nil {
			logger.Fatal(ctx, "publisher", err)
		}
		defer closePub()
		go outbox.NewRelay(store, pub, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize).Run(ctx)
	}

	router := httpx.NewRouter(logger)
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info(observability.WithFields(ctx, observability.Field{Key: "addr", Value: cfg.HTTPAddr}), "http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "listen", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info(ctx, "shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
}
