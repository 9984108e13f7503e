package ports

import (
	"context"

	"github.com/rabbitmq/amqp091-go"

	"asset-pipeline/internal/infrastructure/mq"
)

type RabbitMQ interface {
	Connect(ctx context.Context, dsn string) error
	Init() error
	PublisherWorker(ctx context.Context)
	// Publish queues an event without blocking; false means the buffer is full.
	Publish(e mq.Event) bool
	GetConn() *amqp091.Connection
}
