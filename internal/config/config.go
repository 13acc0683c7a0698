/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config loads the TOML configuration of piton commands.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Bus backends.
const (
	BackendRing      = "ring"
	BackendBroadcast = "broadcast"
)

// Config is the full command configuration.
type Config struct {
	Service ServiceConfig
	Bus     BusConfig
	Log     LogConfig
}

// ServiceConfig sizes the request/reply transport.
type ServiceConfig struct {
	// RingCapacity is the capacity in bytes of every ring.
	RingCapacity int
	// MaxClients is the number of reply rings of a segment.
	MaxClients uint32
	// Segment names a shared-memory segment. Empty means heap rings.
	Segment string
	// Wait is the wait strategy: spin, yield or futex.
	Wait string
}

// BusConfig sizes the telemetry bus.
type BusConfig struct {
	// Capacity is bytes for the ring backend and messages per subscriber
	// for the broadcast backend.
	Capacity    int
	Backend     string
	Subscribers int
}

type LogConfig struct {
	Level string
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			RingCapacity: 65536,
			MaxClients:   8,
			Wait:         "spin",
		},
		Bus: BusConfig{
			Capacity:    4096,
			Backend:     BackendRing,
			Subscribers: 2,
		},
		Log: LogConfig{Level: "info"},
	}
}

type fileConfig struct {
	Service struct {
		RingCapacity int    `toml:"ring_capacity"`
		MaxClients   int64  `toml:"max_clients"`
		Segment      string `toml:"segment"`
		Wait         string `toml:"wait"`
	} `toml:"service"`
	Bus struct {
		Capacity    int    `toml:"capacity"`
		Backend     string `toml:"backend"`
		Subscribers int    `toml:"subscribers"`
	} `toml:"bus"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %s", undecoded[0])
	}

	if meta.IsDefined("service", "ring_capacity") {
		cfg.Service.RingCapacity = raw.Service.RingCapacity
	}
	if meta.IsDefined("service", "max_clients") {
		if raw.Service.MaxClients < 0 || raw.Service.MaxClients > 1<<16 {
			return Config{}, fmt.Errorf("parse service.max_clients: %d out of range", raw.Service.MaxClients)
		}
		cfg.Service.MaxClients = uint32(raw.Service.MaxClients)
	}
	if meta.IsDefined("service", "segment") {
		cfg.Service.Segment = strings.TrimSpace(raw.Service.Segment)
	}
	if meta.IsDefined("service", "wait") {
		cfg.Service.Wait = strings.ToLower(strings.TrimSpace(raw.Service.Wait))
	}

	if meta.IsDefined("bus", "capacity") {
		cfg.Bus.Capacity = raw.Bus.Capacity
	}
	if meta.IsDefined("bus", "backend") {
		cfg.Bus.Backend = strings.ToLower(strings.TrimSpace(raw.Bus.Backend))
	}
	if meta.IsDefined("bus", "subscribers") {
		cfg.Bus.Subscribers = raw.Bus.Subscribers
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and names. Wait strategy names are checked by the
// transport that parses them.
func (c Config) Validate() error {
	if c.Service.RingCapacity <= 0 {
		return fmt.Errorf("service.ring_capacity must be positive, got %d", c.Service.RingCapacity)
	}
	if c.Service.MaxClients == 0 {
		return fmt.Errorf("service.max_clients must be positive")
	}
	switch c.Bus.Backend {
	case BackendRing, BackendBroadcast:
	default:
		return fmt.Errorf("bus.backend must be %q or %q, got %q", BackendRing, BackendBroadcast, c.Bus.Backend)
	}
	if c.Bus.Capacity <= 0 {
		return fmt.Errorf("bus.capacity must be positive, got %d", c.Bus.Capacity)
	}
	if c.Bus.Subscribers < 0 {
		return fmt.Errorf("bus.subscribers must not be negative, got %d", c.Bus.Subscribers)
	}
	if _, err := c.Log.ZerologLevel(); err != nil {
		return err
	}
	return nil
}

// ZerologLevel parses the configured level.
func (c LogConfig) ZerologLevel() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
