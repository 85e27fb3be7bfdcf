package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

var (
	ErrSignatureInvalid = errors.New("invalid url signature")
	ErrSignatureExpired = errors.New("url signature expired")
)

// LocalObjectStore keeps documents on the local filesystem and issues
// HMAC-signed URLs served by the /files route. It is meant for development.
type LocalObjectStore struct {
	baseDir       string
	publicBaseURL string
	secret        []byte
	now           func() time.Time
	logger        *zap.Logger
}

// NewLocalObjectStore creates a LocalObjectStore rooted at baseDir
func NewLocalObjectStore(baseDir, publicBaseURL, signingSecret string, logger *zap.Logger) (*LocalObjectStore, error) {
	if signingSecret == "" {
		return nil, errors.New("signing secret is required for local storage")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalObjectStore{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		secret:        []byte(signingSecret),
		now:           time.Now,
		logger:        logger,
	}, nil
}

// Put writes the object through a temp file and links it into place, so the
// key either does not exist or holds the complete content.
func (s *LocalObjectStore) Put(ctx context.Context, in port.PutObjectInput) error {
	fullPath, err := s.resolve(in.Key)
	if err != nil {
		return err
	}

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	tmp, err := os.CreateTemp(parentDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(in.Content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Link(tmpName, fullPath); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", port.ErrObjectExists, in.Key)
		}
		return fmt.Errorf("failed to publish file: %w", err)
	}

	s.logger.Debug("Object stored",
		zap.String("key", in.Key),
		zap.Int("size", len(in.Content)))
	return nil
}

func (s *LocalObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", port.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// SignedURL returns {publicBaseURL}/files/{key}?expires=...&signature=...
func (s *LocalObjectStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()

	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(key, expires))
	return fmt.Sprintf("%s/files/%s?%s", s.publicBaseURL, strings.Join(segments, "/"), q.Encode()), nil
}

// VerifySignature checks a signature produced by SignedURL
func (s *LocalObjectStore) VerifySignature(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	expected := s.sign(key, exp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > exp {
		return ErrSignatureExpired
	}
	return nil
}

func (s *LocalObjectStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps a key to a path and checks it stays inside baseDir
func (s *LocalObjectStore) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("object key is required")
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", key)
	}
	return fullPath, nil
}

var _ port.ObjectStore = (*LocalObjectStore)(nil)
