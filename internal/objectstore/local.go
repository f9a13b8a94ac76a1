package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
)

// LocalConfig configures a filesystem-backed bucket
type LocalConfig struct {
	Root       string
	Bucket     string
	BaseURL    string
	SigningKey string
}

// LocalStore implements Store on the local filesystem.
// Objects live under <root>/<bucket>/<key>. Capability URLs are HMAC-signed and
// validated by PutWithCapability, which is where expiry is enforced.
type LocalStore struct {
	root       string
	bucket     string
	baseURL    string
	signingKey []byte
	now        func() time.Time

	mu   sync.Mutex
	used map[string]time.Time
}

// NewLocalStore creates the bucket directory and returns the store
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("signing key is required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, cfg.Bucket), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}

	return &LocalStore{
		root:       cfg.Root,
		bucket:     cfg.Bucket,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signingKey: []byte(cfg.SigningKey),
		now:        time.Now,
		used:       make(map[string]time.Time),
	}, nil
}

// SetClock replaces the time source used for expiry checks
func (s *LocalStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *LocalStore) Bucket() string {
	return s.bucket
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, s.bucket, filepath.FromSlash(key))
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrObjectNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Put writes the object atomically, replacing any previous version
func (s *LocalStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.write(key, data)
}

func (s *LocalStore) write(key string, data []byte) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}
	return nil
}

// PresignPut mints a capability URL for one PUT of key with contentType
func (s *LocalStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (Capability, error) {
	if err := ValidateKey(key); err != nil {
		return Capability{}, err
	}
	if s.baseURL == "" {
		return Capability{}, fmt.Errorf("store has no public base url")
	}

	// expiry is signed in milliseconds, rounded up so the window is never shorter than ttl
	expiresAt := s.now().Add(ttl)
	if t := expiresAt.Truncate(time.Millisecond); t.Before(expiresAt) {
		expiresAt = t.Add(time.Millisecond)
	}
	exp := strconv.FormatInt(expiresAt.UnixMilli(), 10)

	q := url.Values{}
	q.Set("ct", contentType)
	q.Set("exp", exp)
	q.Set("sig", s.sign(key, contentType, exp))

	return Capability{
		URL:         s.baseURL + "/objects/" + s.bucket + "/" + escapeKey(key) + "?" + q.Encode(),
		Method:      http.MethodPut,
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

// PutWithCapability stores data presented with a capability minted by PresignPut.
// The capability must be unexpired, unused, signed for this key and content type,
// and the object must not exist yet.
func (s *LocalStore) PutWithCapability(ctx context.Context, bucket, key, contentType string, query url.Values, data []byte) error {
	if bucket != s.bucket {
		return fmt.Errorf("%w: unknown bucket %q", domain.ErrCapabilityInvalid, bucket)
	}
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCapabilityInvalid, err)
	}

	ct, exp, sig := query.Get("ct"), query.Get("exp"), query.Get("sig")
	expected := s.sign(key, ct, exp)
	if sig == "" || !hmac.Equal([]byte(sig), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrCapabilityInvalid)
	}
	if contentType != ct {
		return fmt.Errorf("%w: content type %q not permitted", domain.ErrCapabilityInvalid, contentType)
	}

	expMillis, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad expiry", domain.ErrCapabilityInvalid)
	}
	expiresAt := time.UnixMilli(expMillis)
	if s.now().After(expiresAt) {
		return domain.ErrCapabilityExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if _, ok := s.used[sig]; ok {
		return domain.ErrCapabilityUsed
	}
	if _, err := os.Stat(s.path(key)); err == nil {
		return fmt.Errorf("%w: %s/%s", domain.ErrObjectExists, s.bucket, key)
	}

	if err := s.write(key, data); err != nil {
		return err
	}
	s.used[sig] = expiresAt
	return nil
}

// pruneLocked forgets used signatures that can no longer validate anyway
func (s *LocalStore) pruneLocked() {
	now := s.now()
	for sig, exp := range s.used {
		if now.After(exp) {
			delete(s.used, sig)
		}
	}
}

func (s *LocalStore) sign(key, contentType, exp string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(http.MethodPut + "\n" + s.bucket + "\n" + key + "\n" + contentType + "\n" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
