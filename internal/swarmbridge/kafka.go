// Package swarmbridge relays fleet-ops intents (BroadcastFleet, MessagePeer,
// PostTask) between robots over Kafka, republishing accepted messages onto
// the local event bus's SwarmComm topic as PeerMessage events. The consumer
// side keeps the teacher orchestrator's worker-pool-with-retry-and-DLQ
// shape, pointed at fleet messages instead of workflow commands.
package swarmbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"mechos/internal/bus"
	"mechos/internal/mechtypes"
)

const (
	kindBroadcast   = "broadcast"
	kindPeerMessage = "peer_message"
	kindPostTask    = "post_task"
)

// wireMessage is the JSON envelope exchanged on the fleet Kafka topic.
type wireMessage struct {
	FromRobotID     string `json:"from_robot_id"`
	Kind            string `json:"kind"`
	ToRobotID       string `json:"to_robot_id,omitempty"`
	Message         string `json:"message,omitempty"`
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

// ErrNotFleetIntent is returned by Publish for any HardwareIntent that is
// not a fleet-ops variant.
var ErrNotFleetIntent = fmt.Errorf("swarmbridge: intent is not a fleet-ops variant")

// Relay bridges this robot's fleet-ops intents to a shared Kafka topic and
// delivers peer traffic addressed to it back onto the local bus.
type Relay struct {
	robotID  string
	topic    string
	producer *kafka.Writer
	reader   *kafka.Reader
	bus      *bus.Bus
	namespace string
}

// Config wires the Kafka brokers, consumer group and local bus a Relay needs.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	RobotID     string
	Namespace   string
	Bus         *bus.Bus
	WorkerCount int
}

func New(cfg Config) *Relay {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "mechos-runtime"
	}
	return &Relay{
		robotID:   cfg.RobotID,
		topic:     cfg.Topic,
		namespace: namespace,
		bus:       cfg.Bus,
		producer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

// Close releases the producer and consumer connections.
func (r *Relay) Close() error {
	perr := r.producer.Close()
	rerr := r.reader.Close()
	if perr != nil {
		return perr
	}
	return rerr
}

// Publish encodes a fleet-ops intent and writes it to the shared topic.
func (r *Relay) Publish(ctx context.Context, intent mechtypes.HardwareIntent) error {
	msg := wireMessage{FromRobotID: r.robotID}

	switch v := intent.(type) {
	case mechtypes.BroadcastFleet:
		msg.Kind = kindBroadcast
		msg.Message = v.Message
	case mechtypes.MessagePeer:
		msg.Kind = kindPeerMessage
		msg.ToRobotID = v.TargetRobotID
		msg.Message = v.Message
	case mechtypes.PostTask:
		msg.Kind = kindPostTask
		msg.TaskTitle = v.Title
		msg.TaskDescription = v.Description
	default:
		return ErrNotFleetIntent
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return mechtypes.NewSerialization(err.Error())
	}
	if err := r.producer.WriteMessages(ctx, kafka.Message{Topic: r.topic, Key: []byte(r.robotID), Value: payload}); err != nil {
		return mechtypes.NewChannel(err.Error())
	}
	return nil
}

// deliverableTo reports whether msg should be surfaced on this robot's bus.
func (r *Relay) deliverableTo(msg wireMessage) (string, bool) {
	if msg.FromRobotID == r.robotID {
		return "", false
	}
	switch msg.Kind {
	case kindBroadcast:
		return msg.Message, true
	case kindPeerMessage:
		if msg.ToRobotID != r.robotID {
			return "", false
		}
		return msg.Message, true
	case kindPostTask:
		return fmt.Sprintf("[task] %s: %s", msg.TaskTitle, msg.TaskDescription), true
	default:
		return "", false
	}
}

// Run consumes the fleet topic until ctx is canceled, fanning parsed
// messages out to a bounded worker pool. Malformed messages are published
// to a dead-letter topic after being logged rather than retried, since a
// parse failure will never succeed on redelivery.
func (r *Relay) Run(ctx context.Context, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}

	jobs := make(chan kafka.Message, workerCount*4)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for m := range jobs {
				r.handle(ctx, m)
				if err := r.reader.CommitMessages(ctx, m); err != nil {
					log.Warn().Err(err).Int64("offset", m.Offset).Msg("swarmbridge: commit failed")
				}
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		m, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("swarmbridge: fetch error, backing off")
			timer := time.NewTimer(500 * time.Millisecond)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
			continue
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
		}
	}

	close(jobs)
	wg.Wait()
	return ctx.Err()
}

func (r *Relay) handle(ctx context.Context, m kafka.Message) {
	var msg wireMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		r.publishDLQ(ctx, m, err)
		return
	}
	message, ok := r.deliverableTo(msg)
	if !ok {
		return
	}
	r.bus.PublishToBestEffort(mechtypes.TopicSwarmComm, mechtypes.NewEvent(
		r.namespace+"::swarmbridge",
		mechtypes.PeerMessagePayload(msg.FromRobotID, message),
	))
}

func (r *Relay) publishDLQ(ctx context.Context, m kafka.Message, cause error) {
	log.Error().Err(cause).Bytes("raw", m.Value).Msg("swarmbridge: malformed fleet message, routing to DLQ")
	dlqTopic := r.topic + ".dlq"
	if err := r.producer.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: m.Key, Value: m.Value}); err != nil {
		log.Error().Err(err).Msg("swarmbridge: failed to publish to DLQ")
	}
}
