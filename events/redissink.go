package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"doipsim/logging"
)

// RedisSinkConfig configures a single Redis/Valkey pub/sub egress sink.
type RedisSinkConfig struct {
	Name     string
	Address  string // host:port
	Password string
	Database int
	Channel  string
}

// RedisSink subscribes to an events.Bus and PUBLISHes every record as JSON
// to a configured pub/sub channel. No keys are SET and nothing is persisted:
// this emulator carries no state across restarts, and neither does its
// telemetry egress.
type RedisSink struct {
	cfg    RedisSinkConfig
	client *redis.Client

	connected atomic.Bool
}

// NewRedisSink connects to the configured Redis/Valkey server.
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	sink := &RedisSink{cfg: cfg, client: client}
	sink.connected.Store(true)
	return sink, nil
}

// Attach registers the sink on bus; every subsequent event is published
// best-effort in a background goroutine.
func (s *RedisSink) Attach(bus *Bus) SubscriberID {
	return bus.Subscribe(func(e Event) {
		go s.publish(e)
	})
}

func (s *RedisSink) publish(e Event) {
	data, err := json.Marshal(toWireEvent(e))
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.client.Publish(ctx, s.cfg.Channel, data).Err(); err != nil {
		s.connected.Store(false)
		logging.DebugLog("events", "redis sink %s: publish failed: %v", s.cfg.Name, err)
		return
	}
	s.connected.Store(true)
}

// Close disconnects the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Name returns the sink's configured name, for the status surface.
func (s *RedisSink) Name() string { return s.cfg.Name }

// Connected reports whether the most recent publish attempt succeeded.
func (s *RedisSink) Connected() bool { return s.connected.Load() }
