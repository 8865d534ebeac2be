// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the daemon's HTTP surface: health and metrics probes
// plus a small JSON API for inspection, event injection, and macro playback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/kelpie/internal/behave"
	"github.com/ManuGH/kelpie/internal/bus"
	"github.com/ManuGH/kelpie/internal/event"
	"github.com/ManuGH/kelpie/internal/log"
	"github.com/ManuGH/kelpie/internal/macro"
)

// Server wires the decision core's components behind HTTP handlers.
type Server struct {
	bus     *bus.Bus
	mgr     *behave.Manager
	ctrl    *behave.Controller
	catalog *event.Catalog
	lib     *macro.Library
	player  *macro.Player

	// base bounds background macro playback started by the API.
	base   context.Context
	logger zerolog.Logger
}

// New builds the HTTP surface. lib and player may be nil when macros are
// disabled; their routes then answer 404.
func New(base context.Context, b *bus.Bus, mgr *behave.Manager, ctrl *behave.Controller,
	catalog *event.Catalog, lib *macro.Library, player *macro.Player) *Server {
	return &Server{
		bus:     b,
		mgr:     mgr,
		ctrl:    ctrl,
		catalog: catalog,
		lib:     lib,
		player:  player,
		base:    base,
		logger:  log.WithComponent("api"),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Post("/publish", s.handlePublish)
		r.Get("/behaviours", s.handleBehaviours)
		r.Post("/behaviours/{name}/complete", s.handleComplete)
		if s.lib != nil && s.player != nil {
			r.Get("/macros", s.handleMacros)
			r.Post("/macros/{name}/play", s.handlePlay)
		}
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.bus.Stats()
	s.respond(w, http.StatusOK, map[string]any{
		"bus": map[string]any{
			"published":         st.Published,
			"rejected":          st.Rejected,
			"expired":           st.Expired,
			"delivered":         st.Delivered,
			"delivery_failures": st.DeliveryFailures,
			"collected":         st.Collected,
			"ticks":             st.Ticks,
			"live":              st.Live,
			"pending":           st.Pending,
			"subscribers":       st.Subscribers,
		},
		"quiet_ticks": s.ctrl.QuietTicks(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		Priority    int    `json:"priority"`
		Group       string `json:"group,omitempty"`
	}
	out := make([]entry, 0, s.catalog.Len())
	for _, t := range s.catalog.Types() {
		d, _ := s.catalog.Lookup(t)
		out = append(out, entry{
			Type:        string(d.Type),
			Description: d.Description,
			Priority:    d.Priority,
			Group:       d.Group,
		})
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event   string `json:"event"`
		Payload any    `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.bus.Publish(event.Type(req.Event), req.Payload)
	switch {
	case errors.Is(err, bus.ErrUnknownEventType):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, bus.ErrBusClosed):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.respond(w, http.StatusAccepted, map[string]string{"id": id.String()})
	}
}

func (s *Server) handleBehaviours(w http.ResponseWriter, _ *http.Request) {
	states := make(map[string]string)
	for _, name := range s.mgr.Names() {
		st, err := s.mgr.StateOf(name)
		if err != nil {
			continue
		}
		states[name] = string(st)
	}
	s.respond(w, http.StatusOK, states)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.ctrl.Complete(r.Context(), name); err != nil {
		if errors.Is(err, behave.ErrUnknownBehaviour) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"behaviour": name, "state": string(behave.StateIdle)})
}

func (s *Server) handleMacros(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.lib.Names())
}

// handlePlay starts macro playback in the background and answers immediately;
// a macro may hold between statements far longer than any request budget.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.lib.Get(name); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	go func() {
		if err := s.player.Play(s.base, name); err != nil {
			s.logger.Warn().Err(err).Str(log.FieldMacro, name).Msg("macro playback failed")
		}
	}()
	s.respond(w, http.StatusAccepted, map[string]string{"macro": name, "status": "playing"})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}
