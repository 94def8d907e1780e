package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/sirupsen/logrus"
)

// inventory-rebuild replays every inventory history and reports records whose stored
// total drifted from it. Pass --apply to rewrite drifted totals.
func main() {
	productID := flag.String("product-id", "", "Optional: only this product")
	apply := flag.Bool("apply", false, "Rewrite drifted totals (default is report only)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing products and continue with the others")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	config.SetLogLevel(env.LogLevel)
	logger := config.GetLogger()

	db, err := config.ConnectDatabaseWithRetry(ctx, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	var c cache.Cache = cache.NoopCache{}
	rdb, err := config.ConnectRedisWithRetry(ctx, env.RedisAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		c = cache.NewRedisCache(rdb, "retail:")
	}
	ledger := models.NewInventoryLedger(store.NewGormStore(db, env.StoreMaxAttempts), c, env.CacheTTL, logger, models.SystemClock)

	var productIDs []string
	if id := strings.TrimSpace(*productID); id != "" {
		productIDs = []string{id}
	} else {
		records, err := ledger.ListInventory(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list inventory: %v\n", err)
			os.Exit(1)
		}
		for _, rec := range records {
			productIDs = append(productIDs, rec.ProductId)
		}
	}

	var drifted, fixed int
	for _, id := range productIDs {
		result, err := ledger.Reconcile(ctx, id, *apply)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "reconcile %s failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "reconcile %s failed: %v\n", id, err)
			os.Exit(1)
		}
		if result.Drift == 0 {
			continue
		}
		drifted++
		if result.Fixed {
			fixed++
		}
		logger.WithFields(logrus.Fields{
			"productId": result.ProductId,
			"stored":    result.StoredTotal,
			"computed":  result.ComputedTotal,
			"drift":     result.Drift,
			"fixed":     result.Fixed,
		}).Info("inventory drift")
	}

	fmt.Printf("inventory rebuild complete: checked=%d drifted=%d fixed=%d\n", len(productIDs), drifted, fixed)
}
