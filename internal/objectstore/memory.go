package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	bucket string
	now    func() time.Time

	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore returns an empty bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		now:     time.Now,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryStore) Bucket() string {
	return m.bucket
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrObjectNotFound, m.bucket, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func (m *MemoryStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (Capability, error) {
	if err := ValidateKey(key); err != nil {
		return Capability{}, err
	}

	expiresAt := m.now().Add(ttl)
	return Capability{
		URL:         fmt.Sprintf("memory://%s/%s?exp=%d", m.bucket, key, expiresAt.Unix()),
		Method:      http.MethodPut,
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

// ContentType returns the content type recorded for key
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}
