package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/database"
	"spinsettle/internal/handlers"
	"spinsettle/internal/models"
	"spinsettle/internal/repositories"
	"spinsettle/internal/schedulers"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot"
	"spinsettle/internal/tonchain"
	"spinsettle/internal/util"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL       = 30 * time.Second
	seenTTL       = 48 * time.Hour
	notifyQueue   = 256
	notifyWorkers = 2
)

func main() {
	logger := config.InitLogger()

	cfg, err := config.InitConfig()
	if err != nil {
		logger.Fatalf("Failed to init config: %v", err)
	}
	logger.Infoln("Config initialized")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	psql, err := database.NewPostgres(cfg.Postgres)
	if err != nil {
		logger.Fatal("Failed to connect to database: ", err)
	}
	defer psql.Close()

	if err := psql.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping database: ", err)
	}
	if err := psql.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database: ", err)
	}
	logger.Infoln("Database initialized")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.InitRedisCli(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to redis: ", err)
		}
		defer rdb.Close()
	}

	users := repositories.NewUserRepository(psql.Db)
	referralRepo := repositories.NewReferralRepository(psql.Db)
	intents := repositories.NewIntentRepository(psql.Db)
	ledger := repositories.NewLedgerRepository(psql.Db)

	ids, err := services.NewSnowflakeIds(cfg.SnowflakeNode)
	if err != nil {
		logger.Fatal("Failed to init id generator: ", err)
	}

	dispatcher := services.NewDispatcher(util.RetryPolicy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}, notifyQueue, services.LogSink{})

	var chain services.TransferLookup
	var tonIssuer *tonchain.PaymentIssuer
	if cfg.Ton.WalletAddress != "" {
		api, err := tonchain.NewAPI(ctx, cfg.Ton)
		if err != nil {
			logger.Fatal("Failed to connect to TON: ", err)
		}
		var seen tonchain.SeenStore = tonchain.NewMemorySeenStore()
		if rdb != nil {
			seen = tonchain.NewRedisSeenStore(rdb, seenTTL)
		}
		chain = tonchain.NewLookup(api, seen)

		tonIssuer, err = tonchain.NewPaymentIssuer(cfg.Ton.WalletAddress, cfg.Ton.Network == "testnet")
		if err != nil {
			logger.Fatal("Invalid TON wallet: ", err)
		}
	}

	referrals := services.NewReferalService(users, referralRepo, cfg.Referral)
	userService := services.NewUserService(users, referrals)

	opts := services.DefaultSettlementOptions()
	opts.IntentTTL = cfg.IntentTTL
	opts.SettleMaxAttempts = cfg.SettleMaxAttempts

	settlement := services.NewSettlementService(
		users,
		intents,
		ledger,
		services.NewVerifier(intents, chain, cfg.Ton.MinConfirmations),
		services.NewCommissionCalculator(referralRepo, ids, cfg.Referral.MaxDepth()),
		dispatcher,
		ids,
		models.DefaultCatalog(),
		opts,
	)
	if tonIssuer != nil {
		settlement.RegisterIssuer(models.RailTON, tonIssuer)
	}
	if rdb != nil {
		settlement.UseLocker(database.NewRedisLocker(rdb, "spinsettle:intent:", lockTTL))
	}

	integrity := services.NewIntegrityService(ledger, users, dispatcher)

	bot := tonbot.NewTgBot(cfg.BotToken, cfg.BotName, cfg.Referral.RatesBps, userService, settlement, dispatcher)
	tgbot, err := bot.Init()
	if err != nil {
		logger.Fatal("Failed to init bot: ", err)
	}
	settlement.RegisterIssuer(models.RailStars, tonbot.NewStarsIssuer(tgbot))
	if len(cfg.AdminIds) > 0 {
		dispatcher.AddSink(tonbot.NewAdminSink(tgbot, cfg.AdminIds))
	}
	dispatcher.Start(ctx, notifyWorkers)
	defer dispatcher.Stop()

	scheduler, err := schedulers.NewScheduler(ctx, cfg, settlement, integrity)
	if err != nil {
		logger.Fatal("Failed to init scheduler: ", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	checks := map[string]handlers.HealthCheck{"postgres": psql.Ping}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handlers.NewRouter(handlers.NewAdminHandler(settlement, integrity, referrals, dispatcher, checks), cfg.AdminToken, cfg.ManifestPath),
	}
	go func() {
		logger.Infoln("HTTP server listening on", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped: ", err)
			cancel()
		}
	}()

	logger.Infoln("Telegram bot starting")
	bot.Start(ctx, tgbot)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown: ", err)
	}
	logger.Infoln("Stopped")
}
