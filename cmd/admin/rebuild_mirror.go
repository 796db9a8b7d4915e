// Rebuild the legacy job-status mirror from the store. Run after a mirror
// file got corrupted or deleted while jobs were in flight.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/vietddude/calcwatch/internal/core/config"
	"github.com/vietddude/calcwatch/internal/infra/scheduler"
	"github.com/vietddude/calcwatch/internal/infra/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if cfg.Monitor.MirrorPath == "" {
		fmt.Fprintln(os.Stderr, "monitor.mirror_path is not configured")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	store := postgres.NewStore(db)
	mirror := scheduler.NewMirror(cfg.Monitor.MirrorPath)
	if err := mirror.Rebuild(ctx, store.Calculations); err != nil {
		panic(err)
	}

	fmt.Println("Successfully rebuilt status mirror at", cfg.Monitor.MirrorPath)
}
