// Package redisrelay bridges bus events between separate mechos processes
// (the agent daemon and the cockpit WebSocket bridge) over Redis pub/sub,
// since two OS processes cannot share a Go channel.
package redisrelay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"mechos/internal/mechtypes"
)

// Relay publishes and subscribes mechtypes.Event values on a single Redis
// pub/sub channel.
type Relay struct {
	client  *redis.Client
	channel string
}

func New(addr, channel string) *Relay {
	return &Relay{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

func (r *Relay) Close() error { return r.client.Close() }

// Publish serializes ev and publishes it on the relay's channel.
func (r *Relay) Publish(ctx context.Context, ev mechtypes.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return mechtypes.NewSerialization(err.Error())
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return mechtypes.NewChannel(err.Error())
	}
	return nil
}

// Subscribe returns a channel of events received on the relay's channel.
// The returned channel is closed when ctx is done or the subscription ends.
func (r *Relay) Subscribe(ctx context.Context) <-chan mechtypes.Event {
	sub := r.client.Subscribe(ctx, r.channel)
	out := make(chan mechtypes.Event)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev mechtypes.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
