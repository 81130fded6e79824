package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Publisher is the subset of *redis.Client used to fan notifications out to
// other processes.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// SlotsChanged is the pub/sub payload describing one inventory mutation.
type SlotsChanged struct {
	Owner     string `json:"owner"`
	Inventory string `json:"inventory"`
	Slots     []int  `json:"slots"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// RedisPublisher publishes slot change notifications for one inventory.
// Publish errors are logged and never reach the inventory.
type RedisPublisher struct {
	client    Publisher
	channel   string
	owner     string
	inventory string
	ctx       context.Context
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewRedisPublisher builds a sink that publishes on channel.
func NewRedisPublisher(ctx context.Context, client Publisher, channel, owner, inventoryID string, l logrus.FieldLogger) *RedisPublisher {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &RedisPublisher{
		client:    client,
		channel:   channel,
		owner:     owner,
		inventory: inventoryID,
		ctx:       ctx,
		log:       l,
		now:       time.Now,
	}
}

// SlotsChanged implements inventory.Sink.
func (p *RedisPublisher) SlotsChanged(slots []int) {
	evt := SlotsChanged{
		Owner:     p.owner,
		Inventory: p.inventory,
		Slots:     slots,
		Timestamp: p.now().UnixMilli(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.log.WithError(err).Errorf("Unable to encode slot change for inventory [%s].", p.inventory)
		return
	}
	if err := p.client.Publish(p.ctx, p.channel, data).Err(); err != nil {
		p.log.WithError(err).Warnf("Unable to publish slot change for inventory [%s] on [%s].", p.inventory, p.channel)
	}
}
