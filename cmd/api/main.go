package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/cache"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event"
	eventrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/lock"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification"
	notifrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report"
	reportentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/entity"
	reportrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward"
	rewardrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/router"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/storage"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/vision"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/database"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-waste-rewards")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "postgres")

	if err := database.EnsureSchema(ctx,
		userrepo.NewUserRepo(db),
		rewardrepo.NewRewardRepo(db),
		rewardrepo.NewTransactionRepo(db),
		reportrepo.NewReportRepo(db),
		reportrepo.NewCollectionRepo(db),
		notifrepo.NewNotificationRepo(db),
		eventrepo.NewEventRepo(db),
		eventrepo.NewRegistrationRepo(db),
		eventrepo.NewAttendanceRepo(db),
	); err != nil {
		sugar.Fatalf("ensure schema: %v", err)
	}

	// shared state lives in Redis when configured, otherwise in process
	rdb, err := database.ConnectRedis(ctx, database.RedisConfigFromEnv())
	if err != nil {
		sugar.Fatalf("redis connect: %v", err)
	}
	rlCfg := ratelimit.ConfigFromEnv()
	var (
		statsCache cache.Cache
		limiter    ratelimit.Limiter
		locker     lock.Locker
	)
	if rdb != nil {
		defer rdb.Close()
		statsCache = cache.NewRedis(rdb)
		limiter = ratelimit.NewRedis(rdb, rlCfg)
		locker = lock.NewRedis(rdb)
		sugar.Infow("using redis for cache, rate limits and locks", "addr", rdb.Options().Addr)
	} else {
		mem := ratelimit.NewMemory(rlCfg)
		go mem.Run(ctx)
		memCache := cache.NewMemory()
		go memCache.Run(ctx, time.Minute)
		statsCache = memCache
		limiter = mem
		locker = lock.NewLocal()
		sugar.Warn("REDIS_ADDR not set; cache, rate limits and locks are per process")
	}

	authn, err := auth.NewAuthenticator(auth.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("auth: %v", err)
	}
	photos, err := storage.New(ctx, storage.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("storage: %v", err)
	}
	visionCfg := vision.ConfigFromEnv()
	var model vision.Model
	if visionCfg.APIKey != "" {
		model = vision.NewGeminiClient(visionCfg)
	} else {
		sugar.Warn("GEMINI_API_KEY not set; photo verification is disabled")
	}
	verifier := vision.NewVerifier(model, visionCfg.MinConfidence, reportentity.WasteTypes, sugar)

	secret := os.Getenv("APP_SECRET")
	if secret == "" {
		sugar.Warn("APP_SECRET not set; event check-in codes will not survive a restart")
	}
	signer, err := event.NewSigner(secret)
	if err != nil {
		sugar.Fatalf("event signer: %v", err)
	}

	users := user.NewUserService(userrepo.NewUserRepo(db), statsCache, cache.TTLFromEnv(), sugar)
	rewards := reward.NewService(db, users, sugar)
	if path := os.Getenv("REWARDS_CATALOG"); path != "" {
		items, err := reward.LoadCatalog(path)
		if err != nil {
			sugar.Fatalf("rewards catalog: %v", err)
		}
		if err := rewards.SeedCatalog(ctx, items); err != nil {
			sugar.Fatalf("seed rewards catalog: %v", err)
		}
		sugar.Infow("rewards catalog seeded", "path", path, "items", len(items))
	}
	notes := notifrepo.NewNotificationRepo(db)
	reports := report.NewService(report.Deps{
		DB:            db,
		Rewards:       rewards,
		Notifications: notes,
		Verifier:      verifier,
		Photos:        photos,
		Locker:        locker,
		Cache:         users,
		Logger:        sugar,
	})
	events := event.NewService(db, signer, users, sugar)

	handler := router.RegisterRoutes(router.Deps{
		Logger:        sugar,
		Auth:          authn,
		Limiter:       limiter,
		TrustProxy:    rlCfg.TrustProxy,
		DB:            db,
		Users:         user.NewHandler(users, sugar),
		Reports:       report.NewHandler(reports, users, sugar),
		Rewards:       reward.NewHandler(rewards, users, authn, sugar),
		Notifications: notification.NewHandler(notification.NewService(notes), users, authn, sugar),
		Events:        event.NewHandler(events, users, sugar),
		Vision:        vision.NewHandler(verifier, sugar),
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// collect requests wait on the vision model
		WriteTimeout: 90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
