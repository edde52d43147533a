package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of wochat.
// This should be updated with each release.
const Version = "0.1.0"

// GetPlatform returns the binary name for the current platform.
func GetPlatform() string {
	osName := runtime.GOOS
	arch := runtime.GOARCH

	switch osName {
	case "darwin":
		if arch == "arm64" {
			return "wochat-macos-arm64"
		}
		return "wochat-macos-amd64"
	case "linux":
		if arch == "arm64" || arch == "aarch64" {
			return "wochat-linux-arm64"
		}
		return "wochat-linux-amd64"
	case "windows":
		return "wochat-windows-amd64.exe"
	default:
		return fmt.Sprintf("wochat-%s-%s", osName, arch)
	}
}
