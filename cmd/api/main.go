package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	httpadp "lending-ledger/internal/adapter/http"
	"lending-ledger/internal/adapter/ledger/evm"
	"lending-ledger/internal/adapter/ledger/memledger"
	idem "lending-ledger/internal/adapter/middleware"
	"lending-ledger/internal/adapter/repository/memory"
	"lending-ledger/internal/adapter/repository/mysql"
	"lending-ledger/internal/config"
	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/infrastructure/cache"
	"lending-ledger/internal/infrastructure/db"
	"lending-ledger/internal/infrastructure/logging"
	"lending-ledger/internal/infrastructure/metrics"
	ucloan "lending-ledger/internal/usecase/loan"
	"lending-ledger/internal/usecase/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	logger := logging.Setup("lending-ledger", cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}

	store := memory.NewLoanStore()
	rep := memory.NewReputationLedger()
	engine := reconcile.New(reconcile.Config{
		QueueSize:          cfg.QueueSize,
		PollInterval:       cfg.PollInterval,
		PendingBackoff:     cfg.PendingBackoff,
		PendingMaxAttempts: cfg.PendingMaxAttempts,
		SpeculativeTTL:     cfg.SpeculativeTTL,
		RefreshOnBuffer:    true,
	}, reconcile.Deps{
		Client:     client,
		Store:      store,
		Reputation: rep,
		Journal:    journal,
		Metrics:    metrics.Reconciler(),
		Logger:     logger,
	})
	if _, err := engine.Restore(ctx); err != nil {
		return err
	}

	deps := ucloan.Deps{
		Client:     client,
		Store:      store,
		Reputation: rep,
		Reconciler: engine,
		MirrorTTL:  cfg.ReputationCacheTTL,
		Logger:     logger,
	}
	var guard echo.MiddlewareFunc
	if cfg.RedisAddr != "" {
		rdb, err := cache.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		deps.Mirror = cache.NewReputationMirror(rdb)
		guard = idem.Idempotency(rdb, idem.IdempotencyConfig{
			TTL:    time.Duration(cfg.IdempTTLSecs) * time.Second,
			Logger: logger,
		})
	}
	uc := ucloan.NewUsecase(deps)

	e := echo.New()
	e.HideBanner = true
	e.Validator = httpadp.NewValidator()
	e.Use(middleware.Logger(), middleware.Recover())
	httpadp.Register(e,
		httpadp.NewHandler(engine.Running),
		httpadp.NewLoanHandler(uc),
		httpadp.NewReconcileHandler(engine),
		guard,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		addr := ":" + cfg.AppPort
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Client, error) {
	switch cfg.LedgerDriver {
	case "memory":
		logger.Warn("using in-memory ledger; state is lost on restart")
		return memledger.New(), nil
	case "evm":
		c, err := evm.Dial(ctx, cfg.LedgerRPCURL, evm.Config{
			Contract:          common.HexToAddress(cfg.LedgerContract),
			StartBlock:        cfg.LedgerStartBlock,
			RPS:               cfg.LedgerRPS,
			EventPollInterval: cfg.EventPollInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("dial ledger: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown LEDGER_DRIVER %q", cfg.LedgerDriver)
}

// openJournal returns nil when persistence is off.
func openJournal(cfg *config.Config) (reconcile.Journal, error) {
	if cfg.JournalDriver == "none" {
		return nil, nil
	}
	gdb, err := db.OpenGorm(cfg.JournalDriver, cfg.JournalDSN(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb, mysql.Models()...); err != nil {
		return nil, err
	}
	return reconcile.NewUoWJournal(
		mysql.NewGormUoW(gdb),
		mysql.NewLoanRepository(gdb),
		mysql.NewCreditRepository(gdb),
	), nil
}
