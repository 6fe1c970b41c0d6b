// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the broker.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rentmesh/rentmesh/internal/agreement"
	"github.com/rentmesh/rentmesh/internal/booking"
	"github.com/rentmesh/rentmesh/internal/cache"
	"github.com/rentmesh/rentmesh/internal/coverage"
	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/fanout"
	"github.com/rentmesh/rentmesh/internal/health"
	"github.com/rentmesh/rentmesh/internal/ota"
	"github.com/rentmesh/rentmesh/internal/persistence/sqlite"
	"github.com/rentmesh/rentmesh/internal/sourcehealth"
)

// CompanyStore is the company persistence slice the API needs.
type CompanyStore interface {
	Create(ctx context.Context, c *domain.Company) error
	Get(ctx context.Context, id string) (*domain.Company, error)
	ListByType(ctx context.Context, t domain.CompanyType) ([]*domain.Company, error)
	SetStatus(ctx context.Context, id string, status domain.CompanyStatus) error
	SetEmailVerified(ctx context.Context, id string) error
}

// LocationStore is the place dictionary slice the API needs.
type LocationStore interface {
	ListUNLocodes(ctx context.Context, country, query string, limit int) ([]domain.UNLocode, error)
	ReplaceSourceLocations(ctx context.Context, sourceID string, reported []string) (*sqlite.SyncResult, error)
}

// OverrideStore mutates per-agreement coverage overrides.
type OverrideStore interface {
	UpsertOverride(ctx context.Context, agreementID, unlocode string, allowed bool) error
	RemoveOverride(ctx context.Context, agreementID, unlocode string) error
}

// LocationLister pulls the service area from a live source adapter.
type LocationLister interface {
	Locations(ctx context.Context) ([]string, error)
}

// AdapterProvider narrows the registry to what the sync handler needs.
type AdapterProvider interface {
	Get(ctx context.Context, sourceID string) (LocationLister, error)
}

// Server carries the wired dependencies behind the routes.
type Server struct {
	Fanout     *fanout.Engine
	Envelope   *ota.Builder
	Bookings   *booking.Core
	Agreements *agreement.Manager
	Coverage   *coverage.Resolver
	Companies  CompanyStore
	Locations  LocationStore
	Overrides  OverrideStore
	Adapters   AdapterProvider
	Health     *sourcehealth.Monitor
	Probes     *health.Manager
	Cache      cache.Cache
	Integrity  IntegrityChecker

	RecommendedPollMS int
	CoverageCacheTTL  time.Duration
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestID)
	r.Use(otelhttp.NewMiddleware("rentmesh"))
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)

	if s.Probes != nil {
		r.Get("/healthz", s.Probes.ServeHealth)
		r.Get("/readyz", s.Probes.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(principal)

		r.Post("/availability", s.submitAvailability)
		r.Get("/availability/{requestID}", s.pollAvailability)

		r.Post("/bookings", s.createBooking)
		r.Get("/bookings/{bookingID}", s.getBooking)
		r.Get("/bookings/{bookingID}/history", s.bookingHistory)
		r.Post("/bookings/modify", s.modifyBooking)
		r.Post("/bookings/cancel", s.cancelBooking)
		r.Post("/bookings/check", s.checkBooking)

		r.Post("/agreements", s.createAgreement)
		r.Get("/agreements", s.listAgreements)
		r.Get("/agreements/{agreementID}", s.getAgreement)
		r.Post("/agreements/{agreementID}/{action}", s.transitionAgreement)
		r.Get("/agreements/{agreementID}/coverage", s.getCoverage)
		r.Put("/agreements/{agreementID}/coverage/overrides", s.putOverride)
		r.Delete("/agreements/{agreementID}/coverage/overrides/{unlocode}", s.deleteOverride)

		r.Post("/companies", s.createCompany)
		r.Get("/companies/{companyID}", s.getCompany)
		r.Get("/companies", s.listCompanies)
		r.Post("/companies/{companyID}/status", s.setCompanyStatus)
		r.Post("/companies/{companyID}/verify-email", s.verifyCompanyEmail)

		r.Get("/locations", s.listLocations)
		r.Post("/sources/{sourceID}/locations/sync", s.syncSourceLocations)

		r.Get("/admin/source-health", s.listSourceHealth)
		r.Post("/admin/source-health/{sourceID}/reset", s.resetSourceHealth)
		r.Post("/admin/integrity-check", s.checkIntegrity)
	})
	return r
}
