// Package storage archives exported dashboard reports in object storage and
// hands out time-limited download links for them.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrKeyRequired is returned when an archive operation has no object key
var ErrKeyRequired = errors.New("storage key is required")

// Archived describes a stored export
type Archived struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int       `json:"size"`
}

// Archive stores export files
type Archive interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (Archived, error)
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

// ExportKey builds the object key for an export:
// <prefix>/<viewer>/<dashboard>/<kind>-<UTC timestamp>.csv
func ExportKey(prefix, viewerID, dashboard, kind string, at time.Time) string {
	name := kind + "-" + at.UTC().Format("20060102T150405Z") + ".csv"
	return path.Join(strings.Trim(prefix, "/"), sanitize(viewerID), sanitize(dashboard), name)
}

// ViewerPrefix is the key prefix under which a viewer's exports live
func ViewerPrefix(prefix, viewerID string) string {
	return path.Join(strings.Trim(prefix, "/"), sanitize(viewerID)) + "/"
}

// OwnedBy reports whether key is one of the viewer's exports
func OwnedBy(key, prefix, viewerID string) bool {
	clean := path.Clean("/" + key)[1:]
	return clean == key && strings.HasPrefix(key, ViewerPrefix(prefix, viewerID))
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
