package docstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "cert-1")
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte("%PDF-1.3 CERTIFICATE")
	require.NoError(t, m.Put(ctx, "cert-1", data))
	data[0] = 'X'

	got, err := m.Get(ctx, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3 CERTIFICATE", string(got))
}

// fakeS3 answers path style object requests from a map
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3PutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3(S3Config{
		Bucket:          "certificates",
		Prefix:          "issued",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "cert-1", []byte("CERTIFICATE")))

	fake.mu.Lock()
	assert.Contains(t, fake.objects, "/certificates/issued/cert-1")
	assert.Equal(t, "application/pdf", fake.types["/certificates/issued/cert-1"])
	fake.mu.Unlock()

	got, err := store.Get(ctx, "cert-1")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(got), "CERTIFICATE"))

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
