package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"wochat/internal/app"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOrDefault("WOCHAT_ADDR", ":8080"), "server listen address")
	db := flag.String("db", envOrDefault("WOCHAT_DB_PATH", ""), "sqlite database path")
	uploadDir := flag.String("upload-dir", envOrDefault("WOCHAT_UPLOAD_DIR", ""), "attachment storage directory")
	seed := flag.Bool("seed", false, "create a demo work order on a fresh database")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:      *addr,
		DBPath:    *db,
		UploadDir: *uploadDir,
		SeedDemo:  *seed,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("wochat server listening on %s (db %s)", handle.Addr(), cfg.DBPath)
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server error: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
