package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr        string
	DBPath      string
	UploadDir   string
	MaxFileSize int64
	SeedDemo    bool
}

// ClientConfig defines the parameters the chat panel needs. Identity is
// supplied from outside; there is no login flow in this process.
type ClientConfig struct {
	SocketURL   string
	WorkOrderID int64
	UserID      int64
	FirstName   string
	LastName    string
	Email       string
	AudioDevice string
}

// FileConfig mirrors the optional TOML config file. Every field is optional;
// set fields act as defaults that flags and environment variables override.
type FileConfig struct {
	Server struct {
		Addr        string `toml:"addr"`
		DBPath      string `toml:"db_path"`
		UploadDir   string `toml:"upload_dir"`
		MaxFileSize int64  `toml:"max_file_size"`
	} `toml:"server"`
	Client struct {
		SocketURL   string `toml:"socket_url"`
		WorkOrderID int64  `toml:"work_order"`
		UserID      int64  `toml:"user_id"`
		FirstName   string `toml:"first_name"`
		LastName    string `toml:"last_name"`
		Email       string `toml:"email"`
		AudioDevice string `toml:"audio_device"`
	} `toml:"client"`
}

// LoadConfigFile parses a TOML config file. A missing file is not an error;
// it just yields an empty config.
func LoadConfigFile(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	if env := os.Getenv("WOCHAT_CONFIG"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wochat", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "wochat", "config.toml")
	}
	return filepath.Join(".", ".wochat", "config.toml")
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("WOCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("WOCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "wochat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "wochat", "wochat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Wochat", "wochat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Wochat", "wochat.db")
		}
		return filepath.Join(home, ".local", "share", "wochat", "wochat.db")
	}
	return filepath.Join(".", ".wochat", "wochat.db")
}

// DefaultUploadDir returns the directory uploaded attachments land in.
func DefaultUploadDir() string {
	if env := os.Getenv("WOCHAT_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "uploads")
}
