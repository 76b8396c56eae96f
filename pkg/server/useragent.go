package server

import (
	"path/filepath"
	"strings"
)

var browserMarkers = []string{"mozilla", "chrome", "safari", "firefox", "edg", "opera"}

var archiveExtensions = map[string]bool{
	".zip": true,
	".tar": true,
	".gz":  true,
	".tgz": true,
	".7z":  true,
	".rar": true,
}

// isBrowser is a best-effort User-Agent classifier, never a security
// boundary.
func isBrowser(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range browserMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// isArchiveName reports whether a filename carries an archive extension.
func isArchiveName(name string) bool {
	return archiveExtensions[strings.ToLower(filepath.Ext(name))]
}
