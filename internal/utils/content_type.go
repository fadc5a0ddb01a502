package utils

import (
	"mime"
	"path/filepath"
	"slices"
	"strings"
)

// DetectContentType guesses a MIME type from the file extension of key.
func DetectContentType(key string) string {
	if isTextLike(key) {
		return "text/plain; charset=utf-8"
	} else if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

var textLikeExts = []string{
	".txt", ".log", ".md", ".yaml", ".yml", ".toml", ".ini", ".cfg",
}

func isTextLike(key string) bool {
	return slices.Contains(textLikeExts, strings.ToLower(filepath.Ext(key)))
}
