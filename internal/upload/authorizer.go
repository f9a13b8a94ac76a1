// Package upload issues short-lived write capabilities for input objects.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/objectstore"
)

// DefaultTTL is how long a capability stays valid
const DefaultTTL = 60 * time.Second

// Presigner mints capabilities; objectstore.Store satisfies it
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (objectstore.Capability, error)
}

// Authorizer grants one PUT of one key. It never touches the job record store.
type Authorizer struct {
	presigner Presigner
	ttl       time.Duration
	logger    *slog.Logger
}

// NewAuthorizer returns an Authorizer; a non-positive ttl means DefaultTTL
func NewAuthorizer(presigner Presigner, ttl time.Duration, logger *slog.Logger) *Authorizer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authorizer{presigner: presigner, ttl: ttl, logger: logger}
}

// TTL returns the validity window of issued capabilities
func (a *Authorizer) TTL() time.Duration {
	return a.ttl
}

// Authorize returns a capability for key constrained to contentType.
// Any failure is an *domain.AuthorizationError; nothing is retried here.
func (a *Authorizer) Authorize(ctx context.Context, key, contentType string) (objectstore.Capability, error) {
	if strings.TrimSpace(key) == "" {
		return objectstore.Capability{}, &domain.AuthorizationError{Key: key, Err: errors.New("file name is required")}
	}
	if strings.TrimSpace(contentType) == "" {
		return objectstore.Capability{}, &domain.AuthorizationError{Key: key, Err: errors.New("file type is required")}
	}

	capability, err := a.presigner.PresignPut(ctx, key, contentType, a.ttl)
	if err != nil {
		a.logger.Error("Failed to mint upload capability",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return objectstore.Capability{}, &domain.AuthorizationError{Key: key, Err: err}
	}

	a.logger.Info("Upload capability issued",
		slog.String("key", key),
		slog.String("content_type", contentType),
		slog.Time("expires_at", capability.ExpiresAt),
	)
	return capability, nil
}
