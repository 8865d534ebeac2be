// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command kelpied runs the decision core daemon: the message bus, the
// subsumption controller with its registered behaviours, the macro player,
// and the HTTP surface for health, metrics, and control.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/kelpie/internal/api"
	"github.com/ManuGH/kelpie/internal/arbiter"
	"github.com/ManuGH/kelpie/internal/behave"
	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/config"
	"github.com/ManuGH/kelpie/internal/event"
	kellog "github.com/ManuGH/kelpie/internal/log"
	"github.com/ManuGH/kelpie/internal/macro"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	kellog.Configure(kellog.Config{Level: "info", Service: "kelpie"})
	logger := kellog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	kellog.Configure(kellog.Config{Level: cfg.LogLevel, Service: cfg.Service})

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build event catalog")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.Listen).
		Int("catalog_size", catalog.Len()).
		Msg("starting kelpied")

	mgr := behave.NewManager()
	ctrl := behave.NewController(mgr, cfg.ControllerSettings())
	if err := registerBehaviours(mgr, catalog); err != nil {
		logger.Fatal().Err(err).Msg("behaviour registration failed")
	}

	b, err := bus.New(catalog, arbiter.Selector{}, ctrl, cfg.BusSettings())
	if err != nil {
		logger.Fatal().Err(err).Msg("bus construction failed")
	}
	if err := b.Register(behave.NewTriggerSubscriber(mgr)); err != nil {
		logger.Fatal().Err(err).Msg("trigger subscriber registration failed")
	}

	var (
		lib    *macro.Library
		player *macro.Player
	)
	if cfg.Macros.Dir != "" {
		lib = macro.NewLibrary(catalog)
		if err := lib.LoadDir(cfg.Macros.Dir); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Macros.Dir).Msg("macro load incomplete")
		}
		player = macro.NewPlayer(lib, b)
		logger.Info().Int("macros", lib.Len()).Str("dir", cfg.Macros.Dir).Msg("macro library loaded")

		if cfg.Macros.Watch {
			watcher := macro.NewWatcher(lib, cfg.Macros.Dir)
			if err := watcher.Start(ctx); err != nil {
				logger.Warn().Err(err).Msg("macro watcher unavailable")
			}
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.New(ctx, b, mgr, ctrl, catalog, lib, player).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := b.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("kelpied terminated with error")
	}
	logger.Info().Msg("kelpied stopped")
}

// registerBehaviours wires the built-in behaviour set: collision avoidance
// reactions, drive handling, and the idle behaviour. Deployments with real
// actuators replace the motor closures with hardware bindings.
func registerBehaviours(mgr *behave.Manager, catalog *event.Catalog) error {
	motor := kellog.WithComponent("motor")

	avoid := &behave.Func{
		BehaviourName: "avoid",
		EventTypes: []event.Type{
			event.TypeCollision,
			event.TypeBumperPort, event.TypeBumperCenter, event.TypeBumperStbd,
			event.TypeRangePort, event.TypeRangeCenter, event.TypeRangeStbd,
		},
		GroupName: event.GroupAvoidance,
		Prio:      800,
		OnStart: func(_ context.Context, payload any) error {
			motor.Info().Interface("reading", payload).Msg("avoidance engaged, halting drive")
			return nil
		},
		OnCancel: func(context.Context) error { return nil },
	}

	drive := &behave.Func{
		BehaviourName: "drive",
		EventTypes: []event.Type{
			event.TypeAhead, event.TypeAstern,
			event.TypeTurnPort, event.TypeTurnStbd,
			event.TypeHalt, event.TypeVelocity,
		},
		GroupName: event.GroupDrive,
		Prio:      500,
		OnStart: func(_ context.Context, payload any) error {
			motor.Info().Interface("directive", payload).Msg("drive directive applied")
			return nil
		},
		OnCancel: func(context.Context) error {
			motor.Info().Msg("drive stopped")
			return nil
		},
	}

	roam := &behave.Func{
		BehaviourName: "roam",
		EventTypes:    []event.Type{event.TypeRoam, event.TypeSniff},
		GroupName:     event.GroupBehaviour,
		Prio:          300,
		OnStart: func(_ context.Context, payload any) error {
			motor.Info().Interface("target", payload).Msg("roaming")
			return nil
		},
		OnCancel: func(context.Context) error { return nil },
	}

	for _, reg := range []behave.Registration{
		{Behaviour: avoid},
		{Behaviour: drive, Resume: behave.ResumeRestart},
		{Behaviour: roam},
	} {
		if err := mgr.Register(reg); err != nil {
			return err
		}
	}

	if _, ok := catalog.IdleType(); ok {
		idle, err := behave.NewIdle(catalog, nil)
		if err != nil {
			return err
		}
		if err := mgr.Register(behave.Registration{Behaviour: idle}); err != nil {
			return err
		}
	}
	return nil
}
