package internal

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxAttachmentBytes is the client-side payload cap enforced before any
// upload attempt.
const MaxAttachmentBytes = 10 * 1024 * 1024

// FileItem is one entry in the attachment browser.
type FileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// browseDirectory reads directory contents for the attachment browser.
func browseDirectory(path string) ([]FileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(entries)+1)

	if path != "/" && path != "." {
		items = append(items, FileItem{
			Name:  "..",
			Path:  filepath.Dir(path),
			IsDir: true,
		})
	}

	for _, entry := range entries {
		// Skip hidden files
		if len(entry.Name()) > 0 && entry.Name()[0] == '.' {
			continue
		}

		fullPath := filepath.Join(path, entry.Name())
		item := FileItem{
			Name:  entry.Name(),
			Path:  fullPath,
			IsDir: entry.IsDir(),
		}

		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}

		items = append(items, item)
	}

	// Sort: directories first, then files, both alphabetically
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return items[i].Name < items[j].Name
	})

	return items, nil
}

// getDefaultBrowsePath returns a sensible starting directory.
func getDefaultBrowsePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		docsPath := filepath.Join(home, "Documents")
		if _, err := os.Stat(docsPath); err == nil {
			return docsPath
		}
		downloadsPath := filepath.Join(home, "Downloads")
		if _, err := os.Stat(downloadsPath); err == nil {
			return downloadsPath
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// formatFileSize returns a human-readable file size.
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".heic": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true,
	".webm": true, ".m4v": true,
}

// classifyAttachment infers the message type and upload category from the
// picked file. An image-looking extension is double-checked against the
// file's actual content; a video hiding behind an image extension is
// corrected to VIDEO.
func classifyAttachment(path string) (MessageType, FileCategory) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return MessageTypeVideo, FileCategoryVideo
	case imageExtensions[ext]:
		if isVideoMIME(sniffContentType(path)) {
			return MessageTypeVideo, FileCategoryVideo
		}
		return MessageTypeImage, FileCategoryImage
	default:
		return MessageTypeDocument, FileCategoryOther
	}
}

// sniffContentType reads the leading bytes and detects the real MIME type.
// An unreadable file yields an empty string and the extension wins.
func sniffContentType(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if n == 0 && err != nil {
		return ""
	}
	return http.DetectContentType(buf[:n])
}

func mimeTypeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".heic":
		return "image/heic"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".webm":
		return "video/webm"
	}
	return "application/octet-stream"
}

func isVideoMIME(mime string) bool {
	return strings.HasPrefix(mime, "video/")
}
