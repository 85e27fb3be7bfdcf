package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/content"
)

// fakeS3 is a path-style S3 endpoint that honours If-None-Match: *
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, headers: map[string]http.Header{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/docs/")
	switch r.Method {
	case http.MethodPut:
		if _, ok := f.objects[key]; ok && r.Header.Get("If-None-Match") == "*" {
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`)
			return
		}
		b, _ := io.ReadAll(r.Body)
		f.objects[key] = b
		f.headers[key] = r.Header.Clone()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		b, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(b)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T, endpoint, kmsKey string) *S3ObjectStore {
	t.Helper()
	s, err := NewS3ObjectStore(S3Config{
		Bucket:          "docs",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		KMSKeyID:        kmsKey,
		UsePathStyle:    true,
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestS3ObjectStore_PutEncryptsAndIsCreateOnly(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newTestS3Store(t, srv.URL, "")
	ctx := context.Background()
	body := []byte("%PDF-1.7 test")
	key := "C1/2024/primary-form/20240415T090000.000000000Z"

	in := port.PutObjectInput{Key: key, Content: body, ContentType: "application/pdf", Digest: content.Digest(body)}
	require.NoError(t, s.Put(ctx, in))

	h := fake.headers[key]
	assert.Equal(t, "AES256", h.Get("X-Amz-Server-Side-Encryption"))
	assert.Equal(t, "*", h.Get("If-None-Match"))
	assert.NotEmpty(t, h.Get("X-Amz-Checksum-Sha256"))

	err := s.Put(ctx, in)
	assert.ErrorIs(t, err, port.ErrObjectExists)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestS3ObjectStore_PutWithKMS(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := newTestS3Store(t, srv.URL, "arn:aws:kms:us-east-1:111122223333:key/abc")
	require.NoError(t, s.Put(context.Background(), port.PutObjectInput{Key: "k", Content: []byte("x"), ContentType: "text/plain"}))

	h := fake.headers["k"]
	assert.Equal(t, "aws:kms", h.Get("X-Amz-Server-Side-Encryption"))
	assert.Equal(t, "arn:aws:kms:us-east-1:111122223333:key/abc", h.Get("X-Amz-Server-Side-Encryption-Aws-Kms-Key-Id"))
}

func TestS3ObjectStore_GetMissing(t *testing.T) {
	srv := httptest.NewServer(newFakeS3())
	defer srv.Close()

	s := newTestS3Store(t, srv.URL, "")
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, port.ErrObjectNotFound)
}

func TestS3ObjectStore_SignedURL(t *testing.T) {
	s := newTestS3Store(t, "https://s3.example.test", "")

	raw, err := s.SignedURL(context.Background(), "C1/2024/primary-form/20240415T090000.000000000Z", 300*time.Second)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/docs/C1/2024/primary-form/20240415T090000.000000000Z", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestNewS3ObjectStore_Validation(t *testing.T) {
	_, err := NewS3ObjectStore(S3Config{AccessKeyID: "a", SecretAccessKey: "b"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewS3ObjectStore(S3Config{Bucket: "docs"}, zap.NewNop())
	assert.Error(t, err)
}

func TestHexToBase64(t *testing.T) {
	got, err := hexToBase64(content.Digest([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "ungWv48Bz+pBQUDeXa4iI7ADYaOWF3qctBD/YfIAFa0=", got)

	_, err = hexToBase64("zz")
	assert.Error(t, err)
}
