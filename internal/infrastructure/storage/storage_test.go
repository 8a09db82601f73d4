package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

type fakeS3 struct {
	mu       sync.Mutex
	requests []recordedRequest
	buckets  map[string]bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})

	bucket := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)[0]
	switch {
	case r.Method == http.MethodHead && !strings.Contains(strings.TrimPrefix(r.URL.Path, "/"), "/"):
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		if !strings.Contains(strings.TrimPrefix(r.URL.Path, "/"), "/") {
			f.buckets[bucket] = true
		}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestArchive(t *testing.T, endpoint string) *S3Archive {
	t.Helper()
	archive, err := NewS3Archive(context.Background(), &config.ExportConfig{
		Bucket:          "exports",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
		PresignExpiry:   10 * time.Minute,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return archive
}

func TestNewS3Archive_Validation(t *testing.T) {
	_, err := NewS3Archive(context.Background(), nil)
	assert.ErrorContains(t, err, "configuration is required")

	_, err = NewS3Archive(context.Background(), &config.ExportConfig{})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3Archive(context.Background(), &config.ExportConfig{Bucket: "b", Endpoint: "::nope"})
	assert.ErrorContains(t, err, "invalid export endpoint")

	archive, err := NewS3Archive(context.Background(), &config.ExportConfig{Bucket: "b"}, WithPresignExpiry(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "b", archive.Bucket())
	assert.Equal(t, time.Minute, archive.presignExpiry)
}

func TestS3Archive_Store(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{"exports": true}}
	server := httptest.NewServer(fake)
	defer server.Close()

	archive := newTestArchive(t, server.URL)
	key := "exports/U1/all/team-20240410T120000Z.csv"

	stored, err := archive.Store(context.Background(), key, []byte("Category,Name\n"), "text/csv")
	require.NoError(t, err)

	assert.Equal(t, key, stored.Key)
	assert.Equal(t, 14, stored.Size)
	assert.Contains(t, stored.URL, server.URL+"/exports/"+key)
	assert.Contains(t, stored.URL, "X-Amz-Signature=")
	assert.Contains(t, stored.URL, "X-Amz-Expires=600")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), stored.ExpiresAt, 5*time.Second)

	requests := fake.recorded()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPut, requests[0].method)
	assert.Equal(t, "/exports/"+key, requests[0].path)
	assert.Contains(t, requests[0].body, "Category,Name")

	_, err = archive.Store(context.Background(), "", nil, "text/csv")
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestS3Archive_EnsureBucket(t *testing.T) {
	fake := &fakeS3{buckets: map[string]bool{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	archive := newTestArchive(t, server.URL)
	require.NoError(t, archive.EnsureBucket(context.Background()))
	require.NoError(t, archive.EnsureBucket(context.Background()))

	var methods []string
	for _, r := range fake.recorded() {
		methods = append(methods, r.method)
	}
	assert.Equal(t, []string{http.MethodHead, http.MethodPut, http.MethodHead}, methods)
}

func TestMemoryArchive(t *testing.T) {
	archive := NewMemoryArchive("http://localhost:8080/exports")
	data := []byte("a,b\n")

	stored, err := archive.Store(context.Background(), "exports/U1/all/team x.csv", data, "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/exports/exports/U1/all/team%20x.csv", stored.URL)

	data[0] = 'z'
	got, ok := archive.Get("exports/U1/all/team x.csv")
	require.True(t, ok)
	assert.Equal(t, "a,b\n", string(got))

	_, _, err = archive.DownloadURL(context.Background(), "")
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestExportKey(t *testing.T) {
	at := time.Date(2024, 4, 10, 14, 30, 5, 0, time.FixedZone("IST", 5*3600+1800))
	assert.Equal(t, "exports/U1/all/team-20240410T090005Z.csv", ExportKey("/exports/", "U1", "all", "team", at))
	assert.Equal(t, "exports/a_b/_/summary-20240410T090005Z.csv", ExportKey("exports", "a/b", " ", "summary", at))
}

func TestOwnedBy(t *testing.T) {
	key := ExportKey("exports", "U1", "all", "team", time.Date(2024, 4, 10, 9, 0, 5, 0, time.UTC))
	assert.Equal(t, "exports/U1/", ViewerPrefix("/exports/", "U1"))
	assert.True(t, OwnedBy(key, "exports", "U1"))
	assert.False(t, OwnedBy(key, "exports", "U2"))
	assert.False(t, OwnedBy("exports/U1/../U2/all/team.csv", "exports", "U1"))
	assert.False(t, OwnedBy("exports/U10/all/team.csv", "exports", "U1"))
}
