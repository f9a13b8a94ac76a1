package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the record store
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when a job id is already taken
	ErrDuplicateJob = errors.New("job already exists")

	// ErrAlreadyCompleted is returned when a completion is recorded twice for one job
	ErrAlreadyCompleted = errors.New("job completion already recorded")

	// ErrObjectNotFound is returned when an object key does not exist in the store
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectExists is returned when a write-once object is written a second time
	ErrObjectExists = errors.New("object already exists")

	// ErrCapabilityInvalid is returned for a capability whose signature or constraints do not match
	ErrCapabilityInvalid = errors.New("invalid upload capability")

	// ErrCapabilityExpired is returned for a capability presented after its expiry
	ErrCapabilityExpired = errors.New("upload capability expired")

	// ErrCapabilityUsed is returned when a single-use capability is presented again
	ErrCapabilityUsed = errors.New("upload capability already used")

	// ErrMalformedEvent is returned when a change-feed item cannot be decoded
	ErrMalformedEvent = errors.New("malformed change event")
)

// AuthorizationError means an upload capability could not be minted
type AuthorizationError struct {
	Key string
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorize upload of %q: %v", e.Key, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// WriteError means a record store write was rejected or the store was unreachable
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the store refused the write for a reason a retry cannot fix
func (e *WriteError) Rejected() bool {
	return errors.Is(e.Err, ErrDuplicateJob) ||
		errors.Is(e.Err, ErrAlreadyCompleted) ||
		errors.Is(e.Err, ErrJobNotFound)
}

// DispatchError means a Worker could not be provisioned for a job
type DispatchError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch job %s (attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ProcessingError is a Worker-side fetch, transform or write failure
type ProcessingError struct {
	JobID string
	Step  string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process job %s: %s: %v", e.JobID, e.Step, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// MalformedEventError carries the reason a change-feed item was rejected at ingestion
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrMalformedEvent, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrMalformedEvent, e.Reason)
}

func (e *MalformedEventError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedEvent, e.Err}
	}
	return []error{ErrMalformedEvent}
}
