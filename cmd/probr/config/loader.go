// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the probr configuration file.
//
// The file lives at ~/.probr/probr.yaml and is created with defaults on
// first run. A path ending in .toml is read and written as TOML instead.
// Environment variables, optionally seeded from a .env file, override the
// file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvWebSocketURL = "PROBR_WEBSOCKET_URL"
	EnvHTTPURL      = "PROBR_HTTP_URL"
	EnvScorerURL    = "PROBR_SCORER_URL"
	EnvGatewayPort  = "PROBR_GATEWAY_PORT"
	EnvOTelEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns ~/.probr/probr.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".probr", "probr.yaml"), nil
}

// Load reads the config at path, creating it with defaults if it does not
// exist, then applies environment overrides and validates the result.
// Fields missing from the file keep their defaults.
func Load(path string) (ProbrConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Info("First run detected, creating the config", "path", path)
		if err := createDefault(path); err != nil {
			return ProbrConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ProbrConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return ProbrConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProbrConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return ProbrConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return ProbrConfig{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks field ranges and enumerations.
func Validate(cfg ProbrConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(DefaultConfig()); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(DefaultConfig()); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *ProbrConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWebSocketURL); ok && v != "" {
		cfg.Client.WebSocketURL = v
	}
	if v, ok := lookup(EnvHTTPURL); ok && v != "" {
		cfg.Client.HTTPURL = v
	}
	if v, ok := lookup(EnvScorerURL); ok && v != "" {
		cfg.Gateway.ScorerURL = v
	}
	if v, ok := lookup(EnvGatewayPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGatewayPort, err)
		}
		cfg.Gateway.Port = port
	}
	if v, ok := lookup(EnvOTelEndpoint); ok && v != "" {
		cfg.Gateway.OTelEndpoint = v
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
