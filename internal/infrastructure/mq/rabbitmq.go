package mq

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"asset-pipeline/config"
	"asset-pipeline/internal/interface/api/rest/dto/asset"
)

const bufferSize = 128

const (
	RoutingAssetCreated = "asset.created"
	RoutingAssetDeleted = "asset.deleted"
)

var RoutingKeys = []string{RoutingAssetCreated, RoutingAssetDeleted}

type (
	InputCh  = chan Event
	RabbitMQ struct {
		cfg   config.MQ
		log   *zap.Logger
		conn  *amqp091.Connection
		pubCh *amqp091.Channel
		in    InputCh
	}
	Event struct {
		Id      uuid.UUID   `json:"event_id"`
		TS      time.Time   `json:"time_stamp"`
		Method  string      `json:"event_action"`
		OwnerID string      `json:"owner_id"`
		Payload asset.Asset `json:"asset_payload"`
	}
)

func NewEvent(method string, payload asset.Asset) Event {
	return Event{
		Id:      uuid.New(),
		TS:      time.Now().UTC(),
		Method:  method,
		OwnerID: payload.OwnerID.String(),
		Payload: payload,
	}
}

func New(cfg config.MQ, logger *zap.Logger) *RabbitMQ {
	return &RabbitMQ{
		cfg: cfg,
		log: logger,
		in:  make(chan Event, bufferSize),
	}
}

func (r *RabbitMQ) Connect(ctx context.Context, dsn string) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	amqpCfg := amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp091.Table{
			"connection_name": "assetpipeline",
		},
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}

	var err error
	r.conn, err = amqp091.DialConfig(dsn, amqpCfg)
	if err != nil {
		return err
	}
	r.pubCh, err = r.conn.Channel()
	if err != nil {
		_ = r.conn.Close()
		return err
	}

	r.log.Info("rabbitmq connected successfully")

	return nil
}

func (r *RabbitMQ) Init() error {
	if err := r.pubCh.ExchangeDeclare(
		r.cfg.Exchange,
		r.cfg.ExchangeType,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = r.pubCh.Close()
		return err
	}
	q, err := r.pubCh.QueueDeclare(
		r.cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for _, rk := range RoutingKeys {
		if err = r.pubCh.QueueBind(q.Name, rk, r.cfg.Exchange, false, nil); err != nil {
			return err
		}
	}

	return nil
}

func (r *RabbitMQ) PublisherWorker(ctx context.Context) {
	r.log.Info("starting publisher worker")

	defer func() {
		r.log.Info("publisher worker gracefully stopped")
	}()

	for {
		select {
		case e := <-r.in:
			if err := r.publish(ctx, e); err != nil {
				r.log.Error("mq publish error",
					zap.String("event_id", e.Id.String()),
					zap.String("routing_key", e.Method),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			if r.pubCh != nil {
				_ = r.pubCh.Close()
			}
			return
		}
	}
}

// Publish never blocks the caller: a full buffer drops the event, and the
// reconciliation sweeper picks up whatever it was about.
func (r *RabbitMQ) Publish(e Event) bool {
	select {
	case r.in <- e:
		return true
	default:
		r.log.Warn("mq buffer full, event dropped",
			zap.String("event_id", e.Id.String()),
			zap.String("routing_key", e.Method),
		)
		return false
	}
}

func (r *RabbitMQ) publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pub := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    e.Id.String(),
		Timestamp:    e.TS,
		Type:         e.Method,
		Body:         b,
	}

	return r.pubCh.PublishWithContext(
		ctx,
		r.cfg.Exchange,
		e.Method,
		false,
		false,
		pub,
	)
}

func (r *RabbitMQ) GetConn() *amqp091.Connection { return r.conn }
