package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"wochat/internal/app"
)

func main() {
	_ = godotenv.Load()

	socketURL := flag.String("socket-url", envOrDefault("WOCHAT_SOCKET", "ws://localhost:8080/ws"), "server websocket URL")
	workOrder := flag.Int64("work-order", envOrInt64("WOCHAT_WORK_ORDER", 0), "work order id to open")
	userID := flag.Int64("user-id", envOrInt64("WOCHAT_USER_ID", 0), "current user id")
	firstName := flag.String("first-name", envOrDefault("WOCHAT_FIRST_NAME", ""), "current user first name")
	lastName := flag.String("last-name", envOrDefault("WOCHAT_LAST_NAME", ""), "current user last name")
	email := flag.String("email", envOrDefault("WOCHAT_EMAIL", ""), "current user email")
	audioDevice := flag.String("audio-device", envOrDefault("WOCHAT_AUDIO_DEVICE", ""), "audio capture device for voice notes")
	flag.Parse()

	if args := flag.Args(); len(args) >= 1 && *workOrder == 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			*workOrder = id
		}
	}

	cfg := app.ClientConfig{
		SocketURL:   *socketURL,
		WorkOrderID: *workOrder,
		UserID:      *userID,
		FirstName:   *firstName,
		LastName:    *lastName,
		Email:       *email,
		AudioDevice: *audioDevice,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
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
