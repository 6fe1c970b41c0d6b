// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rentmesh/rentmesh/internal/adapter"
	"github.com/rentmesh/rentmesh/internal/agreement"
	"github.com/rentmesh/rentmesh/internal/availability"
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

// --- companies ---

type memCompanies struct {
	mu   sync.Mutex
	rows map[string]*domain.Company
}

func newMemCompanies() *memCompanies {
	return &memCompanies{rows: make(map[string]*domain.Company)}
}

func (s *memCompanies) Create(ctx context.Context, c *domain.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.ID]; ok {
		return domain.E(domain.CodeAlreadyExists, "", "company %s exists", c.ID)
	}
	cp := *c
	s.rows[c.ID] = &cp
	return nil
}

func (s *memCompanies) Get(ctx context.Context, id string) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "", "company %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memCompanies) GetMany(ctx context.Context, ids []string) (map[string]*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.Company, len(ids))
	for _, id := range ids {
		if c, ok := s.rows[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *memCompanies) ListByType(ctx context.Context, t domain.CompanyType) ([]*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Company
	for _, c := range s.rows {
		if c.Type == t {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memCompanies) SetStatus(ctx context.Context, id string, status domain.CompanyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return domain.E(domain.CodeNotFound, "", "company %s not found", id)
	}
	c.Status = status
	return nil
}

func (s *memCompanies) SetEmailVerified(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return domain.E(domain.CodeNotFound, "", "company %s not found", id)
	}
	c.EmailVerified = true
	c.Status = domain.CompanyActive
	return nil
}

// --- agreements ---

type memAgreements struct {
	mu   sync.Mutex
	rows map[string]*domain.Agreement
}

func newMemAgreements() *memAgreements {
	return &memAgreements{rows: make(map[string]*domain.Agreement)}
}

func (s *memAgreements) Create(ctx context.Context, a *domain.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.SourceID == a.SourceID && existing.AgreementRef == a.AgreementRef {
			return domain.E(domain.CodeAlreadyExists, "", "agreement ref %s in use", a.AgreementRef)
		}
	}
	cp := *a
	s.rows[a.ID] = &cp
	return nil
}

func (s *memAgreements) Get(ctx context.Context, id string) (*domain.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "", "agreement %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memAgreements) list(match func(*domain.Agreement) bool, status domain.AgreementStatus) []*domain.Agreement {
	var out []*domain.Agreement
	for _, a := range s.rows {
		if !match(a) {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out
}

func (s *memAgreements) ListByAgent(ctx context.Context, agentID string, status domain.AgreementStatus) ([]*domain.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(a *domain.Agreement) bool { return a.AgentID == agentID }, status), nil
}

func (s *memAgreements) ListBySource(ctx context.Context, sourceID string, status domain.AgreementStatus) ([]*domain.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(a *domain.Agreement) bool { return a.SourceID == sourceID }, status), nil
}

func (s *memAgreements) UpdateStatusIf(ctx context.Context, id string, expected []domain.AgreementStatus, next domain.AgreementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return domain.E(domain.CodeNotFound, "", "agreement %s not found", id)
	}
	for _, want := range expected {
		if a.Status == want {
			a.Status = next
			a.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.E(domain.CodeFailedPrecondition, domain.ReasonIllegalTransition,
		"agreement %s is %s", id, a.Status)
}

func (s *memAgreements) FindActive(ctx context.Context, agentID, sourceID, agreementRef string) (*domain.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rows {
		if a.AgentID == agentID && a.SourceID == sourceID && a.AgreementRef == agreementRef && a.Status == domain.AgreementActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.E(domain.CodeNotFound, "", "no active agreement")
}

// --- locations and overrides ---

type memLocations struct {
	mu         sync.Mutex
	dictionary []domain.UNLocode
	bySource   map[string]map[string]bool

	sourceReads atomic.Int64
}

func newMemLocations(codes []string) *memLocations {
	dict := make([]domain.UNLocode, 0, len(codes))
	for _, c := range codes {
		dict = append(dict, domain.UNLocode{Code: c, Country: c[:2], Place: c})
	}
	return &memLocations{dictionary: dict, bySource: make(map[string]map[string]bool)}
}

func (s *memLocations) setSource(sourceID string, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	s.bySource[sourceID] = set
}

func (s *memLocations) SourceLocations(ctx context.Context, sourceID string) (map[string]bool, error) {
	s.sourceReads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.bySource[sourceID]))
	for c := range s.bySource[sourceID] {
		out[c] = true
	}
	return out, nil
}

func (s *memLocations) AllCodes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.dictionary))
	for _, row := range s.dictionary {
		out = append(out, row.Code)
	}
	return out, nil
}

func (s *memLocations) KnownCodes(ctx context.Context, candidates []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]bool)
	for _, row := range s.dictionary {
		for _, c := range candidates {
			if row.Code == c {
				known[c] = true
			}
		}
	}
	return known, nil
}

func (s *memLocations) ListUNLocodes(ctx context.Context, country, query string, limit int) ([]domain.UNLocode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UNLocode
	for _, row := range s.dictionary {
		if country != "" && row.Country != country {
			continue
		}
		if query != "" && !strings.Contains(row.Place, query) {
			continue
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memLocations) ReplaceSourceLocations(ctx context.Context, sourceID string, reported []string) (*sqlite.SyncResult, error) {
	known, _ := s.KnownCodes(ctx, reported)
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.bySource[sourceID]
	result := &sqlite.SyncResult{}
	next := make(map[string]bool)
	for _, c := range reported {
		if !known[c] {
			result.Unknown++
			continue
		}
		next[c] = true
		if current[c] {
			result.Kept++
		} else {
			result.Added++
		}
	}
	for c := range current {
		if !next[c] {
			result.Removed++
		}
	}
	s.bySource[sourceID] = next
	return result, nil
}

type memOverrides struct {
	mu   sync.Mutex
	rows map[string]map[string]bool
}

func newMemOverrides() *memOverrides {
	return &memOverrides{rows: make(map[string]map[string]bool)}
}

func (s *memOverrides) Overrides(ctx context.Context, agreementID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.rows[agreementID]))
	for c, allowed := range s.rows[agreementID] {
		out[c] = allowed
	}
	return out, nil
}

func (s *memOverrides) UpsertOverride(ctx context.Context, agreementID, unlocode string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[agreementID] == nil {
		s.rows[agreementID] = make(map[string]bool)
	}
	s.rows[agreementID][unlocode] = allowed
	return nil
}

func (s *memOverrides) RemoveOverride(ctx context.Context, agreementID, unlocode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[agreementID], unlocode)
	return nil
}

// --- bookings ---

type memBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	idem     map[string]string
	history  map[string][]*domain.HistoryEvent
}

func newMemBookingStore() *memBookingStore {
	return &memBookingStore{
		bookings: make(map[string]*domain.Booking),
		idem:     make(map[string]string),
		history:  make(map[string][]*domain.HistoryEvent),
	}
}

func idemKeyOf(agentID, scope, key string) string { return agentID + "|" + scope + "|" + key }

func (s *memBookingStore) Create(ctx context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *memBookingStore) Get(ctx context.Context, id string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "", "booking %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (s *memBookingStore) FindBySupplierRef(ctx context.Context, supplierRef, sourceID string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.SupplierBookingRef == supplierRef && b.SourceID == sourceID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.E(domain.CodeNotFound, "", "booking %s not found", supplierRef)
}

func (s *memBookingStore) Update(ctx context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *memBookingStore) PutIdempotencyKey(ctx context.Context, agentID, scope, key, responseRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKeyOf(agentID, scope, key)
	if _, ok := s.idem[k]; ok {
		return domain.E(domain.CodeAlreadyExists, "", "idempotency key claimed")
	}
	s.idem[k] = responseRef
	return nil
}

func (s *memBookingStore) GetIdempotencyRef(ctx context.Context, agentID, scope, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idem[idemKeyOf(agentID, scope, key)], nil
}

func (s *memBookingStore) AppendHistory(ctx context.Context, ev *domain.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.history[ev.BookingID] = append(s.history[ev.BookingID], &cp)
	return nil
}

func (s *memBookingStore) History(ctx context.Context, bookingID string) ([]*domain.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.HistoryEvent(nil), s.history[bookingID]...), nil
}

// --- source health ---

type memHealthStore struct {
	mu   sync.Mutex
	rows map[string]*domain.SourceHealth
}

func newMemHealthStore() *memHealthStore {
	return &memHealthStore{rows: make(map[string]*domain.SourceHealth)}
}

func (s *memHealthStore) Get(ctx context.Context, sourceID string) (*domain.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.rows[sourceID]; ok {
		cp := *h
		return &cp, nil
	}
	return &domain.SourceHealth{SourceID: sourceID}, nil
}

func (s *memHealthStore) Put(ctx context.Context, h *domain.SourceHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.rows[h.SourceID] = &cp
	return nil
}

func (s *memHealthStore) List(ctx context.Context) ([]*domain.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SourceHealth
	for _, h := range s.rows {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

// --- adapters ---

type adapterPool struct {
	mu      sync.Mutex
	scripts map[string]adapter.MockScript
	live    map[string]*adapter.Mock
}

func newAdapterPool() *adapterPool {
	return &adapterPool{scripts: make(map[string]adapter.MockScript), live: make(map[string]*adapter.Mock)}
}

func (p *adapterPool) Get(ctx context.Context, sourceID string) (adapter.SourceAdapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.live[sourceID]; ok {
		return a, nil
	}
	a := adapter.NewMock(sourceID, p.scripts[sourceID])
	p.live[sourceID] = a
	return a, nil
}

// locationAdapters narrows the pool to the API's location-sync view.
type locationAdapters struct{ pool *adapterPool }

func (l locationAdapters) Get(ctx context.Context, sourceID string) (LocationLister, error) {
	return l.pool.Get(ctx, sourceID)
}

// --- fixture ---

type fixture struct {
	srv        *Server
	companies  *memCompanies
	agreements *memAgreements
	locations  *memLocations
	overrides  *memOverrides
	bookings   *memBookingStore
	pool       *adapterPool

	agreementID string
}

const (
	agentID  = "agent-1"
	sourceID = "src-1"
	adminID  = "admin-1"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	companies := newMemCompanies()
	for _, c := range []*domain.Company{
		{ID: agentID, Type: domain.CompanyAgent, Status: domain.CompanyActive, Name: "City Rentals", EmailVerified: true},
		{ID: sourceID, Type: domain.CompanySource, Status: domain.CompanyActive, Name: "Northern Cars", EmailVerified: true,
			Endpoint: &domain.SourceEndpoint{Transport: "mock"}},
		{ID: adminID, Type: domain.CompanyAdmin, Status: domain.CompanyActive, Name: "Ops", EmailVerified: true},
	} {
		if err := companies.Create(context.Background(), c); err != nil {
			t.Fatalf("seed company: %v", err)
		}
	}

	agreements := newMemAgreements()
	agreementID := "agr-1"
	now := time.Now().UTC()
	if err := agreements.Create(context.Background(), &domain.Agreement{
		ID: agreementID, AgentID: agentID, SourceID: sourceID, AgreementRef: "AGR-1",
		Status: domain.AgreementActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed agreement: %v", err)
	}

	locations := newMemLocations([]string{"GBGLA", "GBLHR", "GBMAN", "USNYC"})
	locations.setSource(sourceID, "GBMAN", "GBLHR")
	overrides := newMemOverrides()
	resolver := coverage.NewResolver(locations, overrides)

	healthStore := newMemHealthStore()
	monitor := sourcehealth.NewMonitor(healthStore, sourcehealth.Options{})

	pool := newAdapterPool()
	store := availability.NewMemoryStore(availability.Options{PollStep: 5 * time.Millisecond})
	t.Cleanup(func() { _ = store.Close() })

	engine := fanout.NewEngine(agreements, resolver, monitor, pool, store, fanout.Options{
		CallTimeout: 2 * time.Second,
		SLA:         5 * time.Second,
		Concurrency: 4,
	})

	bookings := newMemBookingStore()
	core := booking.NewCore(bookings, agreements, pool, 2*time.Second)

	manager := agreement.NewManager(companies, agreements)

	memCache := cache.NewMemory(time.Minute)
	t.Cleanup(memCache.Stop)

	srv := &Server{
		Fanout:            engine,
		Envelope:          ota.NewBuilder(companies),
		Bookings:          core,
		Agreements:        manager,
		Coverage:          resolver,
		Companies:         companies,
		Locations:         locations,
		Overrides:         overrides,
		Adapters:          locationAdapters{pool: pool},
		Health:            monitor,
		Probes:            health.NewManager("test"),
		Cache:             memCache,
		Integrity: func(ctx context.Context, mode string) ([]string, error) {
			return nil, nil
		},
		RecommendedPollMS: 100,
		CoverageCacheTTL:  time.Minute,
	}
	return &fixture{
		srv:         srv,
		companies:   companies,
		agreements:  agreements,
		locations:   locations,
		overrides:   overrides,
		bookings:    bookings,
		pool:        pool,
		agreementID: agreementID,
	}
}
