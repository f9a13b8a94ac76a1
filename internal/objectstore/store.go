// Package objectstore holds input and output blobs addressed by bucket and key.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// OutputPrefix marks objects produced by a Worker
const OutputPrefix = "processed-"

// Capability is a time-bounded authorization for exactly one PUT of one key
type Capability struct {
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store is the object store contract used by the pipeline
type Store interface {
	Bucket() string
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key, contentType string, data []byte) error
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (Capability, error)
}

// Ref addresses an object as "<bucket>/<key>"
type Ref struct {
	Bucket string
	Key    string
}

// ParseRef splits a stored file path into bucket and key. A URL scheme such as s3:// is ignored.
func ParseRef(s string) (Ref, error) {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" {
		return Ref{}, fmt.Errorf("object reference %q has no bucket", s)
	}
	if err := ValidateKey(key); err != nil {
		return Ref{}, err
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

func (r Ref) String() string {
	return r.Bucket + "/" + r.Key
}

// OutputKey derives the result key of an input key: the last path segment gets the processed- prefix
func OutputKey(key string) string {
	dir, file := path.Split(key)
	return dir + OutputPrefix + file
}

// ValidateKey rejects keys that are empty, absolute or escape the bucket
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("object key %q has an invalid segment", key)
		}
	}
	return nil
}
