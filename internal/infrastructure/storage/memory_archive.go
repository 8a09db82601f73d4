package storage

import (
	"context"
	"net/url"
	"sync"
	"time"
)

var _ Archive = (*MemoryArchive)(nil)

// MemoryArchive keeps exports in process memory. It backs local development
// when no bucket is configured.
type MemoryArchive struct {
	// BaseURL prefixes generated download links
	BaseURL string
	Expiry  time.Duration

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArchive creates an empty MemoryArchive
func NewMemoryArchive(baseURL string) *MemoryArchive {
	return &MemoryArchive{
		BaseURL: baseURL,
		Expiry:  15 * time.Minute,
		objects: make(map[string][]byte),
	}
}

// Store keeps a copy of data under key
func (m *MemoryArchive) Store(ctx context.Context, key string, data []byte, contentType string) (Archived, error) {
	if key == "" {
		return Archived{}, ErrKeyRequired
	}
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()

	link, expiresAt, err := m.DownloadURL(ctx, key)
	if err != nil {
		return Archived{}, err
	}
	return Archived{Key: key, URL: link, ExpiresAt: expiresAt, Size: len(data)}, nil
}

// DownloadURL returns a link under BaseURL
func (m *MemoryArchive) DownloadURL(ctx context.Context, key string) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, ErrKeyRequired
	}
	expiresAt := time.Now().Add(m.Expiry)
	return m.BaseURL + "/" + (&url.URL{Path: key}).EscapedPath(), expiresAt, nil
}

// Get returns a stored object
func (m *MemoryArchive) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}
