// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"time"
)

// ProbrConfig is the content of ~/.probr/probr.yaml.
type ProbrConfig struct {
	// Client: how the assistant reaches the analysis service
	Client ClientConfig `yaml:"client" toml:"client"`

	// Gateway: settings for `probr gateway`
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`

	// Ignore: where ignored rules are persisted
	Ignore IgnoreConfig `yaml:"ignore" toml:"ignore"`

	// Logging: console and file logging
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

type ClientConfig struct {
	Transport        string   `yaml:"transport" toml:"transport" validate:"oneof=websocket http"`
	WebSocketURL     string   `yaml:"websocket_url" toml:"websocket_url" validate:"required,url"`
	HTTPURL          string   `yaml:"http_url" toml:"http_url" validate:"required,url"`
	ReplacementLimit int      `yaml:"replacement_limit" toml:"replacement_limit" validate:"gte=0"`
	RemovalDelay     Duration `yaml:"removal_delay" toml:"removal_delay" validate:"gte=0"`
	HeartbeatMargin  Duration `yaml:"heartbeat_margin" toml:"heartbeat_margin" validate:"gte=0"`
	RequestTimeout   Duration `yaml:"request_timeout" toml:"request_timeout" validate:"gt=0"`
	ReconnectEvery   Duration `yaml:"reconnect_every" toml:"reconnect_every" validate:"gt=0"`
	ReconnectBurst   int      `yaml:"reconnect_burst" toml:"reconnect_burst" validate:"gte=1"`
}

type GatewayConfig struct {
	Port              int      `yaml:"port" toml:"port" validate:"gte=1,lte=65535"`
	ScorerURL         string   `yaml:"scorer_url" toml:"scorer_url" validate:"required,url"`
	ScorerTimeout     Duration `yaml:"scorer_timeout" toml:"scorer_timeout" validate:"gt=0"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval" validate:"gt=0"`
	HeartbeatGrace    Duration `yaml:"heartbeat_grace" toml:"heartbeat_grace" validate:"gte=0"`
	MaxConcurrent     int      `yaml:"max_concurrent" toml:"max_concurrent" validate:"gte=1"`
	Metrics           bool     `yaml:"metrics" toml:"metrics"`
	TraceExporter     string   `yaml:"trace_exporter" toml:"trace_exporter" validate:"oneof=none otlp stdout"`
	OTelEndpoint      string   `yaml:"otel_endpoint" toml:"otel_endpoint"`
}

type IgnoreConfig struct {
	// Persist keeps ignored rules across sessions. When false the ignore
	// list lives only as long as the process.
	Persist bool   `yaml:"persist" toml:"persist"`
	Path    string `yaml:"path" toml:"path" validate:"required_if=Persist true"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ProbrConfig {
	return ProbrConfig{
		Client: ClientConfig{
			Transport:        "websocket",
			WebSocketURL:     "ws://localhost:6969/ws",
			HTTPURL:          "http://localhost:6969/",
			ReplacementLimit: 5,
			RemovalDelay:     Duration(500 * time.Millisecond),
			HeartbeatMargin:  Duration(5 * time.Second),
			RequestTimeout:   Duration(30 * time.Second),
			ReconnectEvery:   Duration(2 * time.Second),
			ReconnectBurst:   1,
		},
		Gateway: GatewayConfig{
			Port:              6969,
			ScorerURL:         "http://127.0.0.1:5000/",
			ScorerTimeout:     Duration(30 * time.Second),
			HeartbeatInterval: Duration(45 * time.Second),
			HeartbeatGrace:    Duration(10 * time.Second),
			MaxConcurrent:     8,
			Metrics:           true,
			TraceExporter:     "none",
			OTelEndpoint:      "localhost:4317",
		},
		Ignore: IgnoreConfig{
			Persist: true,
			Path:    "~/.probr/ignore",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "auto",
		},
	}
}

// Duration is a time.Duration written as "500ms" or "45s" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
