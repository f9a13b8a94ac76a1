package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Publisher sends a message to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// QueueProvisioner hands launch specs to a pool of Workers via the launch queue
type QueueProvisioner struct {
	publisher  Publisher
	routingKey string
	logger     *slog.Logger
}

func NewQueueProvisioner(publisher Publisher, routingKey string, logger *slog.Logger) *QueueProvisioner {
	return &QueueProvisioner{
		publisher:  publisher,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Provision publishes the spec; the handle names the queue message
func (p *QueueProvisioner) Provision(ctx context.Context, spec LaunchSpec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal launch spec: %w", err)
	}

	if err := p.publisher.PublishWithRetry(ctx, p.routingKey, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to publish launch of job %s: %w", spec.Params.JobID, err)
	}

	p.logger.Info("Worker launch queued",
		slog.String("job_id", spec.Params.JobID),
		slog.String("routing_key", p.routingKey),
	)

	return p.routingKey + "/" + spec.Params.JobID, nil
}

// DecodeLaunch parses a launch queue message
func DecodeLaunch(body []byte) (LaunchSpec, error) {
	var spec LaunchSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		return LaunchSpec{}, fmt.Errorf("invalid launch message: %w", err)
	}
	if spec.Params.JobID == "" {
		return LaunchSpec{}, fmt.Errorf("launch message has no job id")
	}
	return spec, nil
}
