package otastore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal stand-in for an S3-compatible endpoint: enough to
// exercise Store.Put/Get/Delete without a real object-store dependency in
// tests.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, endpoint string) *Store {
	s, err := New(context.Background(), Config{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	return s
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	fake := newFakeS3()
	server := httptest.NewServer(fake)
	defer server.Close()

	s := newTestStore(t, server.URL)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "files", "hello.txt", bytes.NewReader([]byte("hello world"))))

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")
	require.NoError(t, s.Get(ctx, "files", "hello.txt", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	require.NoError(t, s.Delete(ctx, "files", "hello.txt"))

	err = s.Get(ctx, "files", "hello.txt", dest)
	require.Error(t, err)
}
