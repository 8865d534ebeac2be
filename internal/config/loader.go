// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a loader. An empty path skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fileBus mirrors the bus section on disk. Durations are strings in Go
// duration format ("50ms") and are parsed during merge.
type fileBus struct {
	TickInterval    string `yaml:"tick_interval,omitempty"`
	MaxAge          string `yaml:"max_age,omitempty"`
	DeliveryTimeout string `yaml:"delivery_timeout,omitempty"`
}

type fileController struct {
	IdleThreshold int    `yaml:"idle_threshold,omitempty"`
	CancelWait    string `yaml:"cancel_wait,omitempty"`
}

type fileConfig struct {
	Service    string         `yaml:"service,omitempty"`
	LogLevel   string         `yaml:"log_level,omitempty"`
	Bus        fileBus        `yaml:"bus,omitempty"`
	Controller fileController `yaml:"controller,omitempty"`
	Server     ServerConfig   `yaml:"server,omitempty"`
	Macros     MacroConfig    `yaml:"macros,omitempty"`
	Catalog    []CatalogEntry `yaml:"catalog,omitempty"`
}

func (l *Loader) mergeFile(cfg *AppConfig) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}
	var src fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}

	if src.Service != "" {
		cfg.Service = src.Service
	}
	if src.LogLevel != "" {
		cfg.LogLevel = src.LogLevel
	}
	if err := mergeDuration(&cfg.Bus.TickInterval, src.Bus.TickInterval, "bus.tick_interval"); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Bus.MaxAge, src.Bus.MaxAge, "bus.max_age"); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Bus.DeliveryTimeout, src.Bus.DeliveryTimeout, "bus.delivery_timeout"); err != nil {
		return err
	}
	if src.Controller.IdleThreshold > 0 {
		cfg.Controller.IdleThreshold = src.Controller.IdleThreshold
	}
	if err := mergeDuration(&cfg.Controller.CancelWait, src.Controller.CancelWait, "controller.cancel_wait"); err != nil {
		return err
	}
	if src.Server.Listen != "" {
		cfg.Server.Listen = src.Server.Listen
	}
	if src.Macros.Dir != "" {
		cfg.Macros.Dir = src.Macros.Dir
	}
	if src.Macros.Watch {
		cfg.Macros.Watch = true
	}
	if len(src.Catalog) > 0 {
		cfg.Catalog = src.Catalog
	}
	return nil
}

func mergeDuration(dst *time.Duration, raw, key string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Service = envString("KELPIE_SERVICE", cfg.Service)
	cfg.LogLevel = envString("KELPIE_LOG_LEVEL", cfg.LogLevel)
	cfg.Bus.TickInterval = envDuration("KELPIE_TICK_INTERVAL", cfg.Bus.TickInterval)
	cfg.Bus.MaxAge = envDuration("KELPIE_MAX_AGE", cfg.Bus.MaxAge)
	cfg.Bus.DeliveryTimeout = envDuration("KELPIE_DELIVERY_TIMEOUT", cfg.Bus.DeliveryTimeout)
	cfg.Controller.IdleThreshold = envInt("KELPIE_IDLE_THRESHOLD", cfg.Controller.IdleThreshold)
	cfg.Controller.CancelWait = envDuration("KELPIE_CANCEL_WAIT", cfg.Controller.CancelWait)
	cfg.Server.Listen = envString("KELPIE_LISTEN", cfg.Server.Listen)
	cfg.Macros.Dir = envString("KELPIE_MACRO_DIR", cfg.Macros.Dir)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
