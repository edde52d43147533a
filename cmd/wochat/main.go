package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	intrnl "wochat/internal"
	"wochat/internal/app"
)

const (
	modeServer  = "server"
	modeClient  = "client"
	modeLocal   = "local"
	modeVersion = "version"
)

func main() {
	_ = godotenv.Load()

	mode, args := parseMode(os.Args[1:])
	if mode == modeVersion {
		fmt.Printf("wochat %s (%s)\n", intrnl.Version, intrnl.GetPlatform())
		return
	}

	fileCfg, err := app.LoadConfigFile(os.Getenv("WOCHAT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wochat: %v\n", err)
		os.Exit(1)
	}

	flagSet := flag.NewFlagSet("wochat", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("WOCHAT_ADDR", firstNonEmpty(fileCfg.Server.Addr, defaultAddrForMode(mode))), "server listen address")
	db := flagSet.String("db", envOrDefault("WOCHAT_DB_PATH", fileCfg.Server.DBPath), "sqlite database path (defaults to a per-user path)")
	uploadDir := flagSet.String("upload-dir", envOrDefault("WOCHAT_UPLOAD_DIR", fileCfg.Server.UploadDir), "attachment storage directory")
	socketURL := flagSet.String("socket-url", envOrDefault("WOCHAT_SOCKET", fileCfg.Client.SocketURL), "server websocket URL (client mode)")
	workOrder := flagSet.Int64("work-order", envOrInt64("WOCHAT_WORK_ORDER", fileCfg.Client.WorkOrderID), "work order id to open")
	userID := flagSet.Int64("user-id", envOrInt64("WOCHAT_USER_ID", fileCfg.Client.UserID), "current user id")
	firstName := flagSet.String("first-name", envOrDefault("WOCHAT_FIRST_NAME", fileCfg.Client.FirstName), "current user first name")
	lastName := flagSet.String("last-name", envOrDefault("WOCHAT_LAST_NAME", fileCfg.Client.LastName), "current user last name")
	email := flagSet.String("email", envOrDefault("WOCHAT_EMAIL", fileCfg.Client.Email), "current user email")
	audioDevice := flagSet.String("audio-device", envOrDefault("WOCHAT_AUDIO_DEVICE", fileCfg.Client.AudioDevice), "audio capture device for voice notes")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	flagSet.Parse(args)

	if remaining := flagSet.Args(); len(remaining) > 0 {
		if id, err := strconv.ParseInt(remaining[0], 10, 64); err == nil {
			*workOrder = id
		}
	}

	serverCfg := app.ServerConfig{
		Addr:        *addr,
		DBPath:      *db,
		UploadDir:   *uploadDir,
		MaxFileSize: fileCfg.Server.MaxFileSize,
	}
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}

	clientCfg := app.ClientConfig{
		SocketURL:   *socketURL,
		WorkOrderID: *workOrder,
		UserID:      *userID,
		FirstName:   *firstName,
		LastName:    *lastName,
		Email:       *email,
		AudioDevice: *audioDevice,
	}

	infof := func(format string, args ...interface{}) {
		if *quiet {
			return
		}
		log.Printf(format, args...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, infof)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg, infof)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "wochat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	infof("wochat server listening on %s (db %s)", handle.Addr(), cfg.DBPath)
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.SocketURL == "" {
		return errors.New("client mode requires --socket-url or WOCHAT_SOCKET")
	}
	return app.RunClient(cfg)
}

// runLocalMode starts an embedded server on a loopback port, seeds a demo
// work order, and launches the panel against it.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, infof func(string, ...interface{})) error {
	if err := os.MkdirAll(filepath.Dir(serverCfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	serverCfg.SeedDemo = true

	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	infof("Starting local wochat server on %s (db %s)", handle.Addr(), serverCfg.DBPath)
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.SocketURL = buildWebsocketURL(handle.Addr())
	if clientCfg.WorkOrderID == 0 {
		clientCfg.WorkOrderID = 1
	}
	if clientCfg.UserID == 0 {
		clientCfg.UserID = 1
		if clientCfg.FirstName == "" {
			clientCfg.FirstName = "Local"
			clientCfg.LastName = "User"
		}
	}
	infof("Launching panel against %s (work order %d)", clientCfg.SocketURL, clientCfg.WorkOrderID)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s/ws", addr)
	}
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(host, port))
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeLocal, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeVersion:
		return strings.ToLower(args[0]), args[1:]
	case "--version", "-version", "-v":
		return modeVersion, args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
