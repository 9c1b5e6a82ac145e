package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"offchain-exchange/go-backend/internal/composition/storageserver"
	"offchain-exchange/go-backend/internal/config"
	"offchain-exchange/go-backend/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", storageserver.DefaultAddr, "HTTP listen address")
	configPath := flag.String("config", "", "Path to offchain.yaml (optional)")
	dir := flag.String("dir", "", "Directory served as the storage root (defaults to storage.localDir)")
	writes := flag.Bool("writes", false, "Accept PUT requests")
	flag.Parse()
	if *showVersion {
		fmt.Printf("storage-server version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("storage-server failed to load config: %v", err)
	}
	root := *dir
	if root == "" {
		root = cfg.Storage.LocalDir
	}
	logger := privacylog.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	srv, err := storageserver.New(*addr, root, storageserver.Options{
		AllowWrites: *writes,
		MaxBlobSize: cfg.Storage.MaxBlobSize,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("storage-server failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = srv.Run(ctx)
	stop()
	if err != nil {
		log.Fatalf("storage-server failed: %v", err)
	}
	logger.Info("storage-server stopped")
}
