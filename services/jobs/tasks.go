package jobs

import (
	"context"
	"fmt"

	"sure_app_go/config"
	"sure_app_go/services"
	"sure_app_go/services/queue"

	"gorm.io/gorm"
)

// NewRegistry registers the handlers of every background task kind
func NewRegistry(db *gorm.DB, storage services.StorageProvider, cfg *config.Config) *queue.Registry {
	registry := queue.NewRegistry()
	registry.Handle(queue.KindExport, ExportHandler(db, storage, cfg))
	return registry
}

// NewQueue opens the configured queue backend. The returned close function
// drains in-memory workers and is a no-op for SQS.
func NewQueue(ctx context.Context, cfg *config.Config, registry *queue.Registry) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "sqs":
		q, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSQueueName)
		if err != nil {
			return nil, nil, err
		}
		return q, func() {}, nil
	case "memory", "":
		q := queue.NewMemoryQueue(registry, cfg.QueueWorkers, 64)
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}
