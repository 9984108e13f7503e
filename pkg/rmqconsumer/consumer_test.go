package rmqconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/infrastructure/mq"
	"asset-pipeline/internal/interface/api/rest/dto/asset"
)

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}
func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = requeue
	return nil
}
func (f *fakeAck) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

type fakeStore struct {
	deleted  []string
	err      error
	modified time.Time
	missing  bool
	statErr  error
}

func (f *fakeStore) Stat(ctx context.Context, bucket, key string) (ports.ObjectInfo, error) {
	switch {
	case f.statErr != nil:
		return ports.ObjectInfo{}, f.statErr
	case f.missing:
		return ports.ObjectInfo{}, fmt.Errorf("head %s/%s: %w", bucket, key, ports.ErrObjectNotFound)
	}
	return ports.ObjectInfo{Key: key, LastModified: f.modified}, nil
}

func (f *fakeStore) Delete(ctx context.Context, bucket, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, bucket+"/"+key)
	return nil
}

type fakeIndex struct {
	inUse bool
	err   error
}

func (f *fakeIndex) StorageKeyExists(ctx context.Context, bucket, key string) (bool, error) {
	return f.inUse, f.err
}

func eventBody(t *testing.T, method string) []byte {
	t.Helper()
	b, err := json.Marshal(mq.NewEvent(method, asset.Asset{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		Bucket:     "images",
		StorageKey: "o/avatar/d.png",
	}))
	require.NoError(t, err)
	return b
}

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name        string
		routingKey  string
		body        func(t *testing.T) []byte
		redelivered bool
		store       *fakeStore
		index       *fakeIndex
		wantDeleted []string
		wantAcks    int
		wantNacks   int
		wantRequeue bool
	}{
		{
			name:        "deleted removes the object",
			routingKey:  mq.RoutingAssetDeleted,
			body:        func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			store:       &fakeStore{},
			index:       &fakeIndex{},
			wantDeleted: []string{"images/o/avatar/d.png"},
			wantAcks:    1,
		},
		{
			name:       "deleted keeps a re-referenced object",
			routingKey: mq.RoutingAssetDeleted,
			body:       func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			store:      &fakeStore{},
			index:      &fakeIndex{inUse: true},
			wantAcks:   1,
		},
		{
			name:       "object rewritten after the event is kept",
			routingKey: mq.RoutingAssetDeleted,
			body:       func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			store:      &fakeStore{modified: time.Now().Add(time.Minute)},
			index:      &fakeIndex{},
			wantAcks:   1,
		},
		{
			name:       "object already gone is acked",
			routingKey: mq.RoutingAssetDeleted,
			body:       func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			store:      &fakeStore{missing: true},
			index:      &fakeIndex{},
			wantAcks:   1,
		},
		{
			name:        "stat failure is requeued once",
			routingKey:  mq.RoutingAssetDeleted,
			body:        func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			store:       &fakeStore{statErr: errors.New("s3 down")},
			index:       &fakeIndex{},
			wantNacks:   1,
			wantRequeue: true,
		},
		{
			name:        "storage failure is requeued once",
			routingKey:  mq.RoutingAssetDeleted,
			body:        func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			store:       &fakeStore{err: errors.New("s3 down")},
			index:       &fakeIndex{},
			wantNacks:   1,
			wantRequeue: true,
		},
		{
			name:        "redelivered failure is dropped",
			routingKey:  mq.RoutingAssetDeleted,
			body:        func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetDeleted) },
			redelivered: true,
			store:       &fakeStore{},
			index:       &fakeIndex{err: errors.New("db down")},
			wantNacks:   1,
			wantRequeue: false,
		},
		{
			name:       "created is only logged",
			routingKey: mq.RoutingAssetCreated,
			body:       func(t *testing.T) []byte { return eventBody(t, mq.RoutingAssetCreated) },
			store:      &fakeStore{},
			index:      &fakeIndex{},
			wantAcks:   1,
		},
		{
			name:       "invalid body is acked",
			routingKey: mq.RoutingAssetDeleted,
			body:       func(t *testing.T) []byte { return []byte("{") },
			store:      &fakeStore{},
			index:      &fakeIndex{},
			wantAcks:   1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := New(config.MQ{}, zap.NewNop(), tt.store, tt.index)
			ack := &fakeAck{}

			c.handle(context.Background(), amqp091.Delivery{
				Acknowledger: ack,
				RoutingKey:   tt.routingKey,
				Redelivered:  tt.redelivered,
				Body:         tt.body(t),
			})

			assert.Equal(t, tt.wantDeleted, tt.store.deleted)
			assert.Equal(t, tt.wantAcks, ack.acks)
			assert.Equal(t, tt.wantNacks, ack.nacks)
			assert.Equal(t, tt.wantRequeue, ack.requeue)
		})
	}
}

func TestConsumer_DeliveryWorkerStops(t *testing.T) {
	c := New(config.MQ{}, zap.NewNop(), &fakeStore{}, &fakeIndex{})
	deliveries := make(chan amqp091.Delivery)
	c.chDelivery = deliveries

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.DeliveryWorker(ctx)
		close(done)
	}()

	ack := &fakeAck{}
	deliveries <- amqp091.Delivery{Acknowledger: ack, RoutingKey: mq.RoutingAssetCreated, Body: eventBody(t, mq.RoutingAssetCreated)}
	cancel()
	<-done

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.Equal(t, 1, ack.acks)
}

func TestConnect_InvalidDSN(t *testing.T) {
	c := New(config.MQ{}, zap.NewNop(), &fakeStore{}, &fakeIndex{})

	err := c.Connect("amqp://bad:://dsn")
	require.Error(t, err)
	require.Nil(t, c.chConsume)
	require.Nil(t, c.conn)
}
