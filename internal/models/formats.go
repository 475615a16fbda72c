package models

import (
	"path/filepath"
	"strings"
)

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
)

var supportedExtensions = map[MediaKind][]string{
	MediaKindVideo: {".mp4", ".avi", ".mov", ".mkv", ".webm", ".flv"},
	MediaKindAudio: {".mp3", ".wav", ".aac", ".m4a", ".flac", ".ogg"},
	MediaKindImage: {".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"},
}

// SupportedExtensions returns the accepted extensions for a media kind
func SupportedExtensions(kind MediaKind) []string {
	return append([]string(nil), supportedExtensions[kind]...)
}

// KindOfPath classifies a path by extension. ok is false for unsupported
// extensions.
func KindOfPath(path string) (MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, kind := range []MediaKind{MediaKindVideo, MediaKindAudio, MediaKindImage} {
		for _, e := range supportedExtensions[kind] {
			if e == ext {
				return kind, true
			}
		}
	}
	return "", false
}

// HasKind reports whether path carries an extension of one of the kinds
func HasKind(path string, kinds ...MediaKind) bool {
	got, ok := KindOfPath(path)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if k == got {
			return true
		}
	}
	return false
}
