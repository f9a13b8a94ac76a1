package handler

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/cuongbtq/textjob/internal/api/dto"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/objectstore"
	"github.com/cuongbtq/textjob/internal/recordstore"
)

// DefaultMaxUploadBytes caps the body of an object PUT
const DefaultMaxUploadBytes = 32 << 20

// JobService submits and looks up jobs
type JobService interface {
	Submit(ctx context.Context, req dto.SubmitJobRequest) (*domain.JobRecord, error)
	Get(ctx context.Context, id string) (*domain.JobRecord, error)
	List(ctx context.Context, filter recordstore.JobFilter) ([]domain.JobRecord, error)
}

// UploadAuthorizer mints upload capabilities
type UploadAuthorizer interface {
	Authorize(ctx context.Context, key, contentType string) (objectstore.Capability, error)
}

// ObjectReceiver accepts a PUT presented with a capability; *objectstore.LocalStore satisfies it
type ObjectReceiver interface {
	PutWithCapability(ctx context.Context, bucket, key, contentType string, query url.Values, data []byte) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	ServiceName    string
	Jobs           JobService
	Uploads        UploadAuthorizer
	Objects        ObjectReceiver // nil when capabilities point at an external store
	MaxUploadBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// UploadHandler handles upload authorization and capability-bearing PUTs
type UploadHandler struct {
	logger   *slog.Logger
	uploads  UploadAuthorizer
	objects  ObjectReceiver
	maxBytes int64
}

// NewUploadHandler creates a new UploadHandler instance
func NewUploadHandler(deps *Dependencies) *UploadHandler {
	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &UploadHandler{
		logger:   deps.Logger,
		uploads:  deps.Uploads,
		objects:  deps.Objects,
		maxBytes: maxBytes,
	}
}
