package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/lumenpay/backend/internal/admin"
	"github.com/lumenpay/backend/internal/auth"
	"github.com/lumenpay/backend/internal/config"
	"github.com/lumenpay/backend/internal/custody"
	"github.com/lumenpay/backend/internal/limits"
	"github.com/lumenpay/backend/internal/middleware"
	"github.com/lumenpay/backend/internal/payment"
	"github.com/lumenpay/backend/internal/repository"
	"github.com/lumenpay/backend/internal/router"
	"github.com/lumenpay/backend/internal/settlement"
	"github.com/lumenpay/backend/internal/stellar"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and migrations/001_init.sql has been applied", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River's own tables.
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	accountRepo := repository.NewAccountRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	auditRepo := repository.NewAuditRepo(pool)
	leaseRepo := repository.NewLeaseRepo(pool)

	gateway := stellar.NewClient(cfg.HorizonURL, cfg.NetworkPassphrase, cfg.MasterSeed)
	if cfg.MasterSeed == "" {
		slog.Warn("MASTER_SEED not set, wallet funding falls back to the testnet faucet")
	}

	box, err := custody.NewSecretBox(cfg.WalletMasterKey)
	if err != nil {
		slog.Error("Failed to initialize wallet encryption", "error", err)
		os.Exit(1)
	}
	custodySvc := custody.NewService(
		walletRepo, txRepo, gateway, box, leaseRepo, auditRepo, logger,
		limits.FundingPolicy{
			MaxFundingsPerDay: cfg.MaxFundingsPerDay,
			DailyFundingLimit: cfg.DailyFundingLimit,
		},
		cfg.DefaultFundingAmount,
		cfg.MasterSeed != "",
	)

	// Settlement enqueue is set after the River client exists (breaks the
	// init cycle between payment service and worker registration).
	var insertMu sync.Mutex
	var insertFn payment.EnqueueSettlementTxFunc
	enqueueSettlement := func(ctx context.Context, tx pgx.Tx, args settlement.SettlePaymentArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	paymentSvc := payment.NewService(
		accountRepo, walletRepo, txRepo, auditRepo, enqueueSettlement,
		payment.Policy{
			Amount:         limits.AmountPolicy{Min: cfg.MinAmount, Max: cfg.MaxAmount},
			DailySendLimit: cfg.DailySendLimit,
		},
		logger,
	)

	workers := river.NewWorkers()
	river.AddWorker(workers, settlement.NewWorker(
		txRepo, accountRepo, walletRepo, custodySvc, gateway, auditRepo,
		logger, cfg.MaxRetries, cfg.RetryBaseDelay,
	))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.WorkerConcurrency},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args settlement.SettlePaymentArgs) error {
		// One extra queue attempt beyond the submission retries, so the
		// worker's own retry-count check is what terminates the job and a
		// store hiccup on the last attempt cannot strand the row in PENDING.
		_, err := riverClient.InsertTx(ctx, tx, args, &river.InsertOpts{
			MaxAttempts: cfg.MaxRetries + 1,
			UniqueOpts:  river.UniqueOpts{ByArgs: true},
		})
		return err
	}
	insertMu.Unlock()

	authSvc := auth.NewService(pool, accountRepo, custodySvc, auditRepo, []byte(cfg.AuthSecret), logger)
	authHandler := auth.NewHandler(authSvc, logger)
	custodyHandler := custody.NewHandler(custodySvc, logger)
	paymentHandler := payment.NewHandler(paymentSvc, logger)
	adminHandler := admin.NewHandler(accountRepo, walletRepo, txRepo, auditRepo, logger)

	verify := func(token string) (string, error) {
		claims, err := authSvc.VerifyToken(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}
	authn := middleware.BearerAuth(verify, accountRepo)

	handler := router.New(authHandler, custodyHandler, paymentHandler, adminHandler, authn)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
