package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Dead-letter reasons
const (
	ReasonDispatchFailed = "dispatch_failed"
	ReasonMalformed      = "malformed_event"
)

// DeadLetter is an event parked for offline inspection
type DeadLetter struct {
	JobID    string    `json:"job_id,omitempty"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error"`
	Payload  string    `json:"payload,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterSink receives events that exhausted their retry budget or could not be decoded
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, letter DeadLetter) error
}

// Publisher sends a message to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// QueueSink publishes dead letters to a broker queue
type QueueSink struct {
	publisher  Publisher
	routingKey string
}

func NewQueueSink(publisher Publisher, routingKey string) *QueueSink {
	return &QueueSink{publisher: publisher, routingKey: routingKey}
}

func (s *QueueSink) DeadLetter(ctx context.Context, letter DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := s.publisher.PublishWithRetry(ctx, s.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}

// MemorySink collects dead letters in process
type MemorySink struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func (s *MemorySink) DeadLetter(ctx context.Context, letter DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	return nil
}

// Letters returns a copy of everything collected so far
func (s *MemorySink) Letters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.letters...)
}
