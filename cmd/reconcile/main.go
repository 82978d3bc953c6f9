// reconcile compares each user's cached points with the sum of their
// transaction ledger and, with -fix, rewrites drifted balances from the
// ledger.
//
// Usage (report only):
//
//	go run ./cmd/reconcile
//
// To repair:
//
//	go run ./cmd/reconcile -fix
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/cache"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/database"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/utilities"
)

func main() {
	fix := flag.Bool("fix", false, "Rewrite drifted balances from the ledger (default: report only)")
	flag.Parse()

	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "postgres")

	// repaired users' cached stats must be dropped where the API reads them
	var statsCache cache.Cache = cache.NewMemory()
	rdb, err := database.ConnectRedis(ctx, database.RedisConfigFromEnv())
	if err != nil {
		sugar.Warnw("redis unavailable; cached stats expire on their own", "err", err)
	} else if rdb != nil {
		defer rdb.Close()
		statsCache = cache.NewRedis(rdb)
	}
	users := user.NewUserService(userrepo.NewUserRepo(db), statsCache, cache.TTLFromEnv(), sugar)

	drift, err := reward.NewService(db, users, sugar).Reconcile(ctx, *fix)
	if err != nil {
		sugar.Fatalf("reconcile: %v", err)
	}
	if len(drift) == 0 {
		fmt.Println("all balances match the ledger")
		return
	}
	fmt.Printf("%-10s %12s %12s %12s\n", "user_id", "cached", "ledger", "diff")
	for _, d := range drift {
		fmt.Printf("%-10d %12d %12d %12d\n", d.UserID, d.Points, d.LedgerSum, d.Points-d.LedgerSum)
	}
	if *fix {
		fmt.Printf("repaired %d balance(s)\n", len(drift))
		return
	}
	fmt.Printf("%d balance(s) drifted; rerun with -fix to repair\n", len(drift))
	os.Exit(2)
}
