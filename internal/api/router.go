// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfvianna/shiptrace/internal/config"
)

// Router assembles the HTTP surface.
type Router struct {
	handler *Handler
	cfg     *config.APIConfig
}

// NewRouter creates a router around the given handler.
func NewRouter(handler *Handler, cfg *config.APIConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/", router.handler.Health)
	})

	// Ingestion. Rate limited per client IP; carriers retry on 429.
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Use(PrometheusMetrics)
		if router.cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))
		}
		r.Post("/{source}", router.handler.IngestEvent)
		r.Post("/{source}/batch", router.handler.IngestBatch)
	})

	// Shipment queries and registration.
	r.Route("/api/v1/shipments", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		r.Get("/", router.handler.ListShipments)
		r.Post("/", router.handler.CreateShipment)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", router.handler.GetShipment)
			r.Get("/timeline", router.handler.GetTimeline)
			r.Get("/events", router.handler.ListShipmentEvents)
			r.Get("/invocations", router.handler.ListShipmentInvocations)
		})
	})

	// Taxonomy and review queues.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		r.Get("/occurrence-codes", router.handler.OccurrenceCodes)
		r.Get("/review/events", router.handler.ReviewEvents)
		r.Get("/review/pending", router.handler.ReviewPending)
	})

	// Automation rule management.
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		r.Get("/", router.handler.ListRules)
		r.Post("/", router.handler.CreateRule)
		r.Get("/{id}", router.handler.GetRule)
		r.Post("/{id}/enable", router.handler.SetRuleEnabled)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
