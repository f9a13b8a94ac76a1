// Package service holds the submission logic behind the job endpoints.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/textjob/internal/api/dto"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/idgen"
	"github.com/cuongbtq/textjob/internal/objectstore"
	"github.com/cuongbtq/textjob/internal/recordstore"
)

// DefaultSubmitAttempts bounds how many fresh ids are tried when an id is already taken
const DefaultSubmitAttempts = 3

// ErrInvalidSubmission is returned for a request the record store must never see
var ErrInvalidSubmission = errors.New("invalid submission")

// Recorder is the part of the record store the API uses; *recordstore.Store satisfies it
type Recorder interface {
	Submit(ctx context.Context, id string, inputText, inputFilePath *string) (*domain.JobRecord, error)
	Get(ctx context.Context, id string) (*domain.JobRecord, error)
	List(ctx context.Context, filter recordstore.JobFilter) ([]domain.JobRecord, error)
}

// JobService turns submissions into pending job records
type JobService struct {
	records  Recorder
	bucket   string
	newID    idgen.Generator
	attempts int
	logger   *slog.Logger
}

// NewJobService creates a JobService. Uploaded files are referenced as "<bucket>/<fileName>".
func NewJobService(records Recorder, bucket string, newID idgen.Generator, logger *slog.Logger) *JobService {
	return &JobService{
		records:  records,
		bucket:   bucket,
		newID:    newID,
		attempts: DefaultSubmitAttempts,
		logger:   logger,
	}
}

// Submit writes one pending record under a freshly generated id.
// An id collision is retried with a new id; every other store error is returned as is.
func (s *JobService) Submit(ctx context.Context, req dto.SubmitJobRequest) (*domain.JobRecord, error) {
	if req.InputText == "" && req.FileName == "" {
		return nil, fmt.Errorf("%w: inputText or fileName is required", ErrInvalidSubmission)
	}

	var inputFilePath *string
	if req.FileName != "" {
		key := strings.TrimPrefix(req.FileName, "/")
		if err := objectstore.ValidateKey(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
		}
		inputFilePath = domain.StringPtr(objectstore.Ref{Bucket: s.bucket, Key: key}.String())
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		id := s.newID()

		record, err := s.records.Submit(ctx, id, domain.StringPtr(req.InputText), inputFilePath)
		if err == nil {
			s.logger.Info("Job submitted",
				slog.String("job_id", record.ID),
				slog.String("input_file_path", domain.Deref(inputFilePath)),
			)
			return record, nil
		}
		if !errors.Is(err, domain.ErrDuplicateJob) {
			return nil, err
		}

		s.logger.Warn("Job id collision, retrying with a new id",
			slog.String("job_id", id),
			slog.Int("attempt", attempt),
		)
		lastErr = err
	}

	return nil, fmt.Errorf("no free job id after %d attempts: %w", s.attempts, lastErr)
}

// Get returns one record; unknown ids yield domain.ErrJobNotFound
func (s *JobService) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	return s.records.Get(ctx, id)
}

func (s *JobService) List(ctx context.Context, filter recordstore.JobFilter) ([]domain.JobRecord, error) {
	return s.records.List(ctx, filter)
}
