package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"doipsim/logging"
)

// KafkaSinkConfig configures a single Kafka egress sink.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string
}

// KafkaSink subscribes to an events.Bus and produces every record as a JSON
// message to a configured topic. Publication is best-effort; failures are
// logged, never propagated back to the emitter.
type KafkaSink struct {
	cfg    KafkaSinkConfig
	writer *kafka.Writer

	connected atomic.Bool
}

// NewKafkaSink returns a sink with a lazily-connecting writer for cfg.Topic.
// The writer has no persistent connection to report on construction, so
// Connected starts optimistic and is corrected by the first produce.
func NewKafkaSink(cfg KafkaSinkConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	sink := &KafkaSink{cfg: cfg, writer: writer}
	sink.connected.Store(true)
	return sink
}

// Attach registers the sink on bus; every subsequent event is produced
// best-effort in a background goroutine.
func (s *KafkaSink) Attach(bus *Bus) SubscriberID {
	return bus.Subscribe(func(e Event) {
		go s.produce(e)
	})
}

func (s *KafkaSink) produce(e Event) {
	data, err := json.Marshal(toWireEvent(e))
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, kafka.Message{Value: data, Time: time.Now()}); err != nil {
		s.connected.Store(false)
		logging.DebugLog("events", "kafka sink %s: produce failed: %v", s.cfg.Name, err)
		return
	}
	s.connected.Store(true)
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Name returns the sink's configured name, for the status surface.
func (s *KafkaSink) Name() string { return s.cfg.Name }

// Connected reports whether the most recent produce attempt succeeded.
func (s *KafkaSink) Connected() bool { return s.connected.Load() }
