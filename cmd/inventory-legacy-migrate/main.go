package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/store"
)

// inventory-legacy-migrate converts inventory records still carrying the old
// transactions/purchases arrays into the unified history format.
func main() {
	dryRun := flag.Bool("dry-run", true, "Report what would change without writing")
	asJSON := flag.Bool("json", false, "Print the per-product results as JSON")
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

	results, err := ledger.MigrateLegacy(ctx, *dryRun)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		for _, r := range results {
			fmt.Printf("%s entries=%d stored=%d computed=%d correction=%d written=%t\n",
				r.ProductId, r.Entries, r.StoredTotal, r.ComputedTotal, r.Correction, r.Written)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration stopped after %d products: %v\n", len(results), err)
		os.Exit(1)
	}
	if *dryRun {
		fmt.Printf("dry run: %d legacy records found; rerun with --dry-run=false to write\n", len(results))
		return
	}
	fmt.Printf("legacy migration complete: %d records converted\n", len(results))
}
