package rmqconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/infrastructure/mq"
)

// can scale depends on a parallel worker count
const preFetchCount = 1

const deleteTimeout = 30 * time.Second

type (
	ObjectRemover interface {
		// Stat returns ports.ErrObjectNotFound when the object is missing.
		Stat(ctx context.Context, bucket, key string) (ports.ObjectInfo, error)
		Delete(ctx context.Context, bucket, key string) error
	}
	// KeyIndex tells whether any asset row still points at an object.
	KeyIndex interface {
		StorageKeyExists(ctx context.Context, bucket, key string) (bool, error)
	}

	Consumer struct {
		cfg        config.MQ
		log        *zap.Logger
		store      ObjectRemover
		index      KeyIndex
		conn       *amqp091.Connection
		chConsume  *amqp091.Channel
		chDelivery <-chan amqp091.Delivery
	}
)

func New(cfg config.MQ, logger *zap.Logger, store ObjectRemover, index KeyIndex) *Consumer {
	return &Consumer{
		cfg:   cfg,
		log:   logger,
		store: store,
		index: index,
	}
}

func (c *Consumer) Connect(dsn string) error {
	conn, err := amqp091.Dial(dsn)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	c.conn, c.chConsume = conn, ch

	c.log.Info("rabbitmq consumer connected successfully")

	return nil
}

func (c *Consumer) Init() error {
	if err := c.chConsume.ExchangeDeclare(
		c.cfg.Exchange,
		c.cfg.ExchangeType,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := c.chConsume.QueueDeclare(
		c.cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, rk := range mq.RoutingKeys {
		if err := c.chConsume.QueueBind(
			c.cfg.QueueName,
			rk,
			c.cfg.Exchange,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("queue bind %s: %w", rk, err)
		}
	}

	if err := c.chConsume.Qos(preFetchCount, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	var err error
	c.chDelivery, err = c.chConsume.Consume(
		c.cfg.QueueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	return nil
}

func (c *Consumer) DeliveryWorker(ctx context.Context) {
	c.log.Info("starting delivery worker")

	defer func() {
		c.log.Info("delivery worker gracefully stopped")
	}()

	for {
		select {
		case msg, ok := <-c.chDelivery:
			if !ok {
				c.log.Warn("delivery channel closed")
				return
			}
			c.handle(ctx, msg)
		case <-ctx.Done():
			if c.chConsume != nil {
				_ = c.chConsume.Close()
			}
			if c.conn != nil {
				_ = c.conn.Close()
			}
			return
		}
	}
}

// handle acks processed and undecodable messages. A failed deletion is requeued once;
// the reconciliation sweep removes whatever is still left after that.
func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	if err := c.delivery(ctx, msg); err != nil {
		c.log.Error("mq message processing error",
			zap.String("routing_key", msg.RoutingKey),
			zap.String("message_id", msg.MessageId),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err),
		)
		if nerr := msg.Nack(false, !msg.Redelivered); nerr != nil {
			c.log.Error("mq nack error", zap.Error(nerr))
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.log.Error("mq ack error", zap.Error(err))
	}
}

func (c *Consumer) delivery(ctx context.Context, msg amqp091.Delivery) error {
	var e mq.Event
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		// a poison message is dropped, never requeued
		c.log.Warn("mq message dropped: invalid body", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		return nil
	}

	switch msg.RoutingKey {
	case mq.RoutingAssetCreated:
		c.log.Info("asset created",
			zap.String("event_id", e.Id.String()),
			zap.String("owner_id", e.OwnerID),
			zap.String("storage_key", e.Payload.StorageKey),
		)
		return nil
	case mq.RoutingAssetDeleted:
		return c.removeObject(ctx, e)
	default:
		c.log.Warn("mq message dropped: unknown routing key", zap.String("routing_key", msg.RoutingKey))
		return nil
	}
}

func (c *Consumer) removeObject(ctx context.Context, e mq.Event) error {
	bucket, key := e.Payload.Bucket, e.Payload.StorageKey
	if bucket == "" || key == "" {
		c.log.Warn("asset.deleted without location", zap.String("event_id", e.Id.String()))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("event_id", e.Id.String()),
		zap.String("bucket", bucket),
		zap.String("storage_key", key),
	}

	info, err := c.store.Stat(ctx, bucket, key)
	if errors.Is(err, ports.ErrObjectNotFound) {
		c.log.Info("object already gone", fields...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat object: %w", err)
	}
	// identical content maps to the same key; an object written at or after the
	// deletion belongs to a newer upload that may not have committed its row yet
	if !info.LastModified.Before(e.TS.Truncate(time.Second)) {
		c.log.Info("object rewritten after deletion, kept", append(fields, zap.Time("last_modified", info.LastModified))...)
		return nil
	}

	inUse, err := c.index.StorageKeyExists(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("storage key lookup: %w", err)
	}
	if inUse {
		c.log.Info("object referenced again, kept", fields...)
		return nil
	}

	if err = c.store.Delete(ctx, bucket, key); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	c.log.Info("object deleted", fields...)

	return nil
}
