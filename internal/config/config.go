// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads and validates the daemon configuration with the
// precedence ENV > file > defaults. The event catalog section is resolved
// into an immutable event.Catalog before the core starts.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/kelpie/internal/behave"
	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/event"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// BusConfig configures the message bus.
type BusConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	MaxAge          time.Duration `yaml:"max_age"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// ControllerConfig configures the subsumption controller.
type ControllerConfig struct {
	IdleThreshold int           `yaml:"idle_threshold"`
	CancelWait    time.Duration `yaml:"cancel_wait"`
}

// ServerConfig configures the health and metrics HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// MacroConfig configures the macro library.
type MacroConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// CatalogEntry is one YAML event definition.
type CatalogEntry struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
	Group       string `yaml:"group"`
}

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Service    string           `yaml:"service"`
	LogLevel   string           `yaml:"log_level"`
	Bus        BusConfig        `yaml:"bus"`
	Controller ControllerConfig `yaml:"controller"`
	Server     ServerConfig     `yaml:"server"`
	Macros     MacroConfig      `yaml:"macros"`
	Catalog    []CatalogEntry   `yaml:"catalog"`
}

// Defaults returns the baseline configuration. An empty Catalog section means
// the built-in event defaults.
func Defaults() AppConfig {
	return AppConfig{
		Service:  "kelpie",
		LogLevel: "info",
		Bus: BusConfig{
			TickInterval:    bus.DefaultTickInterval,
			MaxAge:          bus.DefaultMaxAge,
			DeliveryTimeout: bus.DefaultDeliveryTimeout,
		},
		Controller: ControllerConfig{
			IdleThreshold: behave.DefaultIdleThreshold,
			CancelWait:    behave.DefaultCancelWait,
		},
		Server: ServerConfig{Listen: ":8675"},
	}
}

// Validate checks the resolved configuration.
func (c AppConfig) Validate() error {
	if c.Bus.TickInterval <= 0 {
		return fmt.Errorf("%w: bus.tick_interval must be positive", ErrInvalidConfig)
	}
	if c.Bus.MaxAge <= 0 {
		return fmt.Errorf("%w: bus.max_age must be positive", ErrInvalidConfig)
	}
	if c.Bus.DeliveryTimeout <= 0 {
		return fmt.Errorf("%w: bus.delivery_timeout must be positive", ErrInvalidConfig)
	}
	if c.Bus.DeliveryTimeout >= c.Bus.TickInterval {
		return fmt.Errorf("%w: bus.delivery_timeout %s must stay below bus.tick_interval %s",
			ErrInvalidConfig, c.Bus.DeliveryTimeout, c.Bus.TickInterval)
	}
	if c.Controller.IdleThreshold <= 0 {
		return fmt.Errorf("%w: controller.idle_threshold must be positive", ErrInvalidConfig)
	}
	if c.Controller.CancelWait <= 0 {
		return fmt.Errorf("%w: controller.cancel_wait must be positive", ErrInvalidConfig)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen must not be empty", ErrInvalidConfig)
	}
	if _, err := c.BuildCatalog(); err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrInvalidConfig, err)
	}
	return nil
}

// BuildCatalog resolves the catalog section into an immutable event catalog.
// An empty section yields the built-in defaults.
func (c AppConfig) BuildCatalog() (*event.Catalog, error) {
	if len(c.Catalog) == 0 {
		return event.DefaultCatalog(), nil
	}
	defs := make([]event.Def, 0, len(c.Catalog))
	for _, e := range c.Catalog {
		defs = append(defs, event.Def{
			Type:        event.Type(e.Type),
			Description: e.Description,
			Priority:    e.Priority,
			Group:       e.Group,
		})
	}
	return event.NewCatalog(defs)
}

// BusSettings maps the bus section onto the bus package config.
func (c AppConfig) BusSettings() bus.Config {
	return bus.Config{
		TickInterval:    c.Bus.TickInterval,
		MaxAge:          c.Bus.MaxAge,
		DeliveryTimeout: c.Bus.DeliveryTimeout,
	}
}

// ControllerSettings maps the controller section onto the behave package config.
func (c AppConfig) ControllerSettings() behave.Config {
	return behave.Config{
		IdleThreshold: c.Controller.IdleThreshold,
		CancelWait:    c.Controller.CancelWait,
	}
}
