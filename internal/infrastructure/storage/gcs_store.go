package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

// GCSConfig holds settings for a Cloud Storage bucket
type GCSConfig struct {
	Bucket string
	// CredentialsFile is a service account key; empty uses application default credentials
	CredentialsFile string
	// KMSKeyName is a Cloud KMS key for CMEK; empty uses Google-managed encryption
	KMSKeyName string
}

// GCSObjectStore stores documents in Cloud Storage
type GCSObjectStore struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	kmsKeyName string
	now        func() time.Time
	logger     *zap.Logger
}

// NewGCSObjectStore creates a GCSObjectStore
func NewGCSObjectStore(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSObjectStore{
		client:     client,
		bucket:     client.Bucket(cfg.Bucket),
		kmsKeyName: cfg.KMSKeyName,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Put writes the object only if it does not exist yet
func (s *GCSObjectStore) Put(ctx context.Context, in port.PutObjectInput) error {
	w := s.bucket.Object(in.Key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = in.ContentType
	w.Metadata = in.Metadata
	if in.Digest != "" {
		if w.Metadata == nil {
			w.Metadata = map[string]string{}
		}
		w.Metadata["sha256"] = in.Digest
	}
	if s.kmsKeyName != "" {
		w.KMSKeyName = s.kmsKeyName
	}

	if _, err := w.Write(in.Content); err != nil {
		_ = w.Close()
		return s.mapWriteError(in.Key, err)
	}
	if err := w.Close(); err != nil {
		return s.mapWriteError(in.Key, err)
	}
	return nil
}

func (s *GCSObjectStore) mapWriteError(key string, err error) error {
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %s", port.ErrObjectExists, key)
	}
	s.logger.Error("GCS upload failed", zap.String("key", key), zap.Error(err))
	return fmt.Errorf("failed to write to GCS: %w", err)
}

func (s *GCSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", port.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return b, nil
}

// SignedURL issues a V4 signed GET URL using the client's credentials
func (s *GCSObjectStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: s.now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}
	return u, nil
}

// Close releases the underlying client
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

var _ port.ObjectStore = (*GCSObjectStore)(nil)
