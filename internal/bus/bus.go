// Package bus implements the multi-topic, many-to-many broadcast fabric
// tying perception, cognition, HAL adapters and the operator dashboard
// together. Go's standard library has no broadcast-with-lag primitive
// (tokio::sync::broadcast has no direct equivalent), so this is a
// hand-rolled bounded ring buffer per topic with an explicit lag signal.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"mechos/internal/mechtypes"
)

const defaultCapacity = 256

// Lagged is returned by Recv/TryRecv when the caller has fallen behind the
// ring by more than its capacity; N is the number of events dropped.
type Lagged struct {
	N uint64
}

func (l *Lagged) Error() string {
	return fmt.Sprintf("lagged by %d events", l.N)
}

// ring is a single bounded broadcast channel shared by every subscriber of
// one topic (or the legacy global channel).
type ring struct {
	mu          sync.Mutex
	buf         []mechtypes.Event
	head        uint64
	notify      chan struct{}
	subscribers map[*Receiver]struct{}
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ring{
		buf:         make([]mechtypes.Event, capacity),
		notify:      make(chan struct{}),
		subscribers: make(map[*Receiver]struct{}),
	}
}

func (r *ring) capacity() uint64 { return uint64(len(r.buf)) }

// publish appends ev, overwriting the oldest slot if full, and wakes every
// blocked receiver. It never blocks. Returns the number of live subscribers.
func (r *ring) publish(ev mechtypes.Event) int {
	r.mu.Lock()
	r.buf[r.head%r.capacity()] = ev
	r.head++
	n := len(r.subscribers)
	old := r.notify
	r.notify = make(chan struct{})
	close(old)
	r.mu.Unlock()
	return n
}

func (r *ring) subscribe() *Receiver {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := &Receiver{ring: r, cursor: r.head}
	r.subscribers[rc] = struct{}{}
	return rc
}

func (r *ring) unsubscribe(rc *Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, rc)
}

// next reports the next event for cursor, a Lagged error if the ring has
// advanced past it, or ok=false if nothing new is available yet.
func (r *ring) next(cursor uint64) (ev mechtypes.Event, newCursor uint64, err error, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cursor >= r.head {
		return mechtypes.Event{}, cursor, nil, false
	}

	lagStart := uint64(0)
	if r.head > r.capacity() {
		lagStart = r.head - r.capacity()
	}
	if cursor < lagStart {
		dropped := lagStart - cursor
		return mechtypes.Event{}, lagStart, &Lagged{N: dropped}, true
	}

	ev = r.buf[cursor%r.capacity()]
	return ev, cursor + 1, nil, true
}

func (r *ring) waitChan() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notify
}

// Receiver yields events from one ring (a topic, or the global channel)
// starting from the moment it subscribed.
type Receiver struct {
	ring   *ring
	cursor uint64
}

// Recv blocks until an event is available, a lag is detected, or ctx is
// done. A *Lagged error is non-fatal: the caller decides whether to
// continue, resubscribe, or exit.
func (rc *Receiver) Recv(ctx context.Context) (mechtypes.Event, error) {
	for {
		ev, cursor, err, ok := rc.ring.next(rc.cursor)
		if ok {
			rc.cursor = cursor
			return ev, err
		}
		wait := rc.ring.waitChan()
		select {
		case <-ctx.Done():
			return mechtypes.Event{}, ctx.Err()
		case <-wait:
		}
	}
}

// TryRecv is the non-blocking drain primitive: ok is false when the ring
// has nothing new for this receiver right now.
func (rc *Receiver) TryRecv() (ev mechtypes.Event, err error, ok bool) {
	ev, cursor, err, ok := rc.ring.next(rc.cursor)
	if ok {
		rc.cursor = cursor
	}
	return ev, err, ok
}

// Unsubscribe removes the receiver from its ring's live subscriber count.
func (rc *Receiver) Unsubscribe() {
	rc.ring.unsubscribe(rc)
}

// Bus is the multi-topic broadcast fabric. The zero value is not usable;
// construct with New.
type Bus struct {
	capacity int
	mu       sync.Mutex
	topics   map[mechtypes.Topic]*ring
	global   *ring
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		capacity: capacity,
		topics:   make(map[mechtypes.Topic]*ring),
		global:   newRing(capacity),
	}
}

func (b *Bus) ringFor(topic mechtypes.Topic) *ring {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.topics[topic]
	if !ok {
		r = newRing(b.capacity)
		b.topics[topic] = r
	}
	return r
}

// PublishTo publishes ev on topic (and on the legacy global channel, which
// carries every event). It returns the number of live topic subscribers, or
// a *mechtypes.MechError of kind Channel if the topic has none.
func (b *Bus) PublishTo(topic mechtypes.Topic, ev mechtypes.Event) (int, error) {
	n := b.ringFor(topic).publish(ev)
	b.global.publish(ev)

	log.Debug().Str("topic", string(topic)).Int("subscriber_count", n).Str("event.source", ev.Source).Msg("bus publish")

	if n == 0 {
		return 0, mechtypes.NewChannel(fmt.Sprintf("no subscribers on topic %s", topic))
	}
	return n, nil
}

// PublishToBestEffort is PublishTo without the no-subscriber error: used by
// the agent loop's Act step, where "no subscribers" is expected and not a
// failure.
func (b *Bus) PublishToBestEffort(topic mechtypes.Topic, ev mechtypes.Event) int {
	n, err := b.PublishTo(topic, ev)
	if err != nil {
		log.Debug().Str("topic", string(topic)).Msg("publish with no subscribers, ignored")
	}
	return n
}

// Publish publishes ev on the legacy global channel only.
func (b *Bus) Publish(ev mechtypes.Event) (int, error) {
	n := b.global.publish(ev)
	log.Debug().Int("subscriber_count", n).Str("event.source", ev.Source).Msg("bus publish (global)")
	if n == 0 {
		return 0, mechtypes.NewChannel("no subscribers on global channel")
	}
	return n, nil
}

// SubscribeTo returns a Receiver yielding events published on topic.
func (b *Bus) SubscribeTo(topic mechtypes.Topic) *Receiver {
	return b.ringFor(topic).subscribe()
}

// Subscribe returns a Receiver yielding every event published on the bus.
func (b *Bus) Subscribe() *Receiver {
	return b.global.subscribe()
}
