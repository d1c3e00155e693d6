// Package config handles configuration persistence for the DoIP emulator.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"doipsim/events"
	"doipsim/server"
)

// ListenerID is a unique identifier for a config change listener.
type ListenerID string

// Config holds the complete application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Vehicle VehicleConfig `yaml:"vehicle"`
	Sinks   SinksConfig  `yaml:"sinks,omitempty"`
	Status  StatusConfig `yaml:"status,omitempty"`

	// dataMu protects all config fields against concurrent access. Callers
	// that modify config should Lock(), modify, then call UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex          `yaml:"-"`
	listenerCounter uint64                `yaml:"-"`
}

// ServerConfig carries the listen address, the three logical DoIP
// addresses, and the response catalog path.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ServerAddr      uint16 `yaml:"server_addr"`
	ServerAddrFunc  uint16 `yaml:"server_addr_func"`
	ClientAddr      uint16 `yaml:"client_addr"`
	ResponseFile    string `yaml:"response_file,omitempty"`
	AnnounceOnStart bool   `yaml:"announce_on_start"`
}

// VehicleConfig carries the fixed vehicle identity fields, VIN as plain
// text and EID/GID as hex strings (matching the Response Catalog's own
// hex-string convention).
type VehicleConfig struct {
	VIN string `yaml:"vin"`
	EID string `yaml:"eid"`
	GID string `yaml:"gid"`
}

// ToIdentity validates and converts ServerConfig into a server.Identity.
func (s ServerConfig) ToIdentity() (server.Identity, error) {
	id := server.Identity{
		ServerAddr:     s.ServerAddr,
		ServerAddrFunc: s.ServerAddrFunc,
		ClientAddr:     s.ClientAddr,
	}
	if err := id.Validate(); err != nil {
		return server.Identity{}, err
	}
	return id, nil
}

// ToVehicleIdentity decodes EID/GID from hex and builds a
// server.VehicleIdentity.
func (v VehicleConfig) ToVehicleIdentity() (server.VehicleIdentity, error) {
	eid, err := decodeFixed6(v.EID)
	if err != nil {
		return server.VehicleIdentity{}, fmt.Errorf("config: vehicle.eid: %w", err)
	}
	gid, err := decodeFixed6(v.GID)
	if err != nil {
		return server.VehicleIdentity{}, fmt.Errorf("config: vehicle.gid: %w", err)
	}
	return server.NewVehicleIdentity(v.VIN, eid, gid, 0x00), nil
}

func decodeFixed6(s string) ([6]byte, error) {
	var out [6]byte
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return out, err
	}
	if len(raw) != 6 {
		return out, fmt.Errorf("want 6 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// SinksConfig lists the optional telemetry egress adapters to attach to
// the Event Sink on startup.
type SinksConfig struct {
	MQTT  []MQTTSinkConfig  `yaml:"mqtt,omitempty"`
	Kafka []KafkaSinkConfig `yaml:"kafka,omitempty"`
	Redis []RedisSinkConfig `yaml:"redis,omitempty"`
}

// MQTTSinkConfig is the YAML shape of one MQTT egress sink.
type MQTTSinkConfig struct {
	Name        string `yaml:"name"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

func (m MQTTSinkConfig) toSinkConfig() events.MQTTSinkConfig {
	return events.MQTTSinkConfig{
		Name:        m.Name,
		Broker:      m.Broker,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
	}
}

// KafkaSinkConfig is the YAML shape of one Kafka egress sink.
type KafkaSinkConfig struct {
	Name    string   `yaml:"name"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k KafkaSinkConfig) toSinkConfig() events.KafkaSinkConfig {
	return events.KafkaSinkConfig{Name: k.Name, Brokers: k.Brokers, Topic: k.Topic}
}

// RedisSinkConfig is the YAML shape of one Redis/Valkey egress sink.
type RedisSinkConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	Database int    `yaml:"database,omitempty"`
	Channel  string `yaml:"channel"`
}

func (r RedisSinkConfig) toSinkConfig() events.RedisSinkConfig {
	return events.RedisSinkConfig{
		Name:     r.Name,
		Address:  r.Address,
		Password: r.Password,
		Database: r.Database,
		Channel:  r.Channel,
	}
}

// StatusConfig controls the read-only HTTP status surface.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DefaultConfig returns a configuration with sensible defaults. Identity
// addresses are intentionally left zero: server_addr_func has no safe
// default (see server.Identity.Validate) and must come from the file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 13400,
		},
		Sinks: SinksConfig{
			MQTT:  []MQTTSinkConfig{},
			Kafka: []KafkaSinkConfig{},
			Redis: []RedisSinkConfig{},
		},
		Status: StatusConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8099,
		},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".doipsim", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file is not fatal:
// defaults are used and a best-effort Save writes them back out, matching
// the Response Catalog's own tolerant-missing-file policy.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	dirty := false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		dirty = true
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if dirty {
		cfg.Save(path) // best-effort
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback invoked whenever the config is
// saved. Returns an id usable with RemoveOnChangeListener.
func (c *Config) AddOnChangeListener(cb func()) ListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ListenerID]func())
	}

	id := ListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access. Use before
// modifying fields directly, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies listeners.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // release before I/O

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// Validate checks the fields Load cannot check on its own (identity
// validity, EID/GID hex decodability). The VIN is not checked.
func (c *Config) Validate() error {
	if _, err := c.Server.ToIdentity(); err != nil {
		return err
	}
	if _, err := c.Vehicle.ToVehicleIdentity(); err != nil {
		return err
	}
	return nil
}

// MQTTSinks returns the configured MQTT sinks in events.MQTTSinkConfig form.
func (c *Config) MQTTSinks() []events.MQTTSinkConfig {
	out := make([]events.MQTTSinkConfig, len(c.Sinks.MQTT))
	for i, m := range c.Sinks.MQTT {
		out[i] = m.toSinkConfig()
	}
	return out
}

// KafkaSinks returns the configured Kafka sinks in events.KafkaSinkConfig form.
func (c *Config) KafkaSinks() []events.KafkaSinkConfig {
	out := make([]events.KafkaSinkConfig, len(c.Sinks.Kafka))
	for i, k := range c.Sinks.Kafka {
		out[i] = k.toSinkConfig()
	}
	return out
}

// RedisSinks returns the configured Redis sinks in events.RedisSinkConfig form.
func (c *Config) RedisSinks() []events.RedisSinkConfig {
	out := make([]events.RedisSinkConfig, len(c.Sinks.Redis))
	for i, r := range c.Sinks.Redis {
		out[i] = r.toSinkConfig()
	}
	return out
}
