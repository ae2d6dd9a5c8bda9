package main

import (
	"context"
	"file-relay/infrastructure/storage"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
)

type viewerConfig struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/catalog"`
	DebugPort      int    `env:"DEBUG_PORT,default=8081"`
}

// The viewer serves the catalog inspector without running the relay.
func main() {
	_ = godotenv.Load()
	var config viewerConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// BypassLockGuard lets the viewer open the catalog while the relay holds the lock.
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	database.StartDebugServer(db, config.DebugPort, "/inspect", storage.CatalogMapper)
	fmt.Printf("Viewer started at http://localhost:%d/inspect?prefix=file:\n", config.DebugPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}
