package provider

import (
	"fmt"
	"net/http"
	"os"
)

// maxImageBytes caps what is read from disk; Telegram photos are far smaller.
const maxImageBytes = 20 << 20

// loadImage reads an image file and sniffs its MIME type.
func loadImage(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("stat image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return nil, "", fmt.Errorf("image %s is %d bytes, limit is %d", path, info.Size(), maxImageBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return data, http.DetectContentType(data), nil
}
