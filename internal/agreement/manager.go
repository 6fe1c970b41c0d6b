// SPDX-License-Identifier: MIT

// Package agreement drives the commercial agreement lifecycle between
// agents and sources.
//
// DRAFT -> OFFERED -> ACCEPTED -> ACTIVE -> {SUSPENDED, EXPIRED}
//
// Transitions go through the store's compare-and-set so concurrent
// transitions of the same agreement cannot both win.
package agreement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
)

// CompanyReader validates the parties of a new draft.
type CompanyReader interface {
	Get(ctx context.Context, id string) (*domain.Company, error)
}

// Store is the persistence slice the manager needs.
type Store interface {
	Create(ctx context.Context, a *domain.Agreement) error
	Get(ctx context.Context, id string) (*domain.Agreement, error)
	ListByAgent(ctx context.Context, agentID string, status domain.AgreementStatus) ([]*domain.Agreement, error)
	ListBySource(ctx context.Context, sourceID string, status domain.AgreementStatus) ([]*domain.Agreement, error)
	UpdateStatusIf(ctx context.Context, id string, expected []domain.AgreementStatus, next domain.AgreementStatus) error
}

// Manager owns agreement lifecycle rules.
type Manager struct {
	companies CompanyReader
	store     Store
}

// NewManager wires the manager.
func NewManager(companies CompanyReader, store Store) *Manager {
	return &Manager{companies: companies, store: store}
}

// CreateDraft registers a new DRAFT agreement between an active agent and
// an active source. (sourceID, agreementRef) must be unused.
func (m *Manager) CreateDraft(ctx context.Context, agentID, sourceID, agreementRef string, validFrom, validTo *time.Time) (*domain.Agreement, error) {
	if agreementRef == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "", "agreement_ref is required")
	}
	if err := m.requireActive(ctx, agentID, domain.CompanyAgent); err != nil {
		return nil, err
	}
	if err := m.requireActive(ctx, sourceID, domain.CompanySource); err != nil {
		return nil, err
	}
	if validFrom != nil && validTo != nil && !validTo.After(*validFrom) {
		return nil, domain.E(domain.CodeInvalidArgument, "", "valid_to must be after valid_from")
	}

	now := time.Now().UTC()
	a := &domain.Agreement{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		SourceID:     sourceID,
		AgreementRef: agreementRef,
		Status:       domain.AgreementDraft,
		ValidFrom:    validFrom,
		ValidTo:      validTo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Create(ctx, a); err != nil {
		return nil, err
	}
	log.WithComponent("agreement").Info().
		Str(log.FieldAgreementRef, agreementRef).
		Str(log.FieldAgentID, agentID).
		Str(log.FieldSourceID, sourceID).
		Msg("agreement draft created")
	return a, nil
}

func (m *Manager) requireActive(ctx context.Context, id string, want domain.CompanyType) error {
	c, err := m.companies.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Type != want {
		return domain.E(domain.CodeInvalidArgument, "", "company %s is %s, want %s", id, c.Type, want)
	}
	if c.Status != domain.CompanyActive {
		return domain.E(domain.CodeFailedPrecondition, "", "company %s is %s", id, c.Status)
	}
	return nil
}

// Get fetches one agreement, restricted to its parties and admins.
func (m *Manager) Get(ctx context.Context, p domain.Principal, id string) (*domain.Agreement, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParty(p, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListForPrincipal lists the caller's agreements, optionally by status.
func (m *Manager) ListForPrincipal(ctx context.Context, p domain.Principal, status domain.AgreementStatus) ([]*domain.Agreement, error) {
	switch p.Type {
	case domain.CompanyAgent:
		return m.store.ListByAgent(ctx, p.CompanyID, status)
	case domain.CompanySource:
		return m.store.ListBySource(ctx, p.CompanyID, status)
	default:
		return nil, domain.E(domain.CodePermissionDenied, "", "admins list agreements per company")
	}
}

func requireParty(p domain.Principal, a *domain.Agreement) error {
	if p.Type == domain.CompanyAdmin {
		return nil
	}
	if p.CompanyID == a.AgentID || p.CompanyID == a.SourceID {
		return nil
	}
	return domain.E(domain.CodePermissionDenied, "", "company %s is not a party to this agreement", p.CompanyID)
}

// transition describes one legal lifecycle edge and who may take it.
type transition struct {
	from []domain.AgreementStatus
	to   domain.AgreementStatus
	may  func(p domain.Principal, a *domain.Agreement) bool
}

func sourceOrAdmin(p domain.Principal, a *domain.Agreement) bool {
	return p.Type == domain.CompanyAdmin || p.CompanyID == a.SourceID
}

func agentOrAdmin(p domain.Principal, a *domain.Agreement) bool {
	return p.Type == domain.CompanyAdmin || p.CompanyID == a.AgentID
}

func anyParty(p domain.Principal, a *domain.Agreement) bool {
	return p.Type == domain.CompanyAdmin || p.CompanyID == a.AgentID || p.CompanyID == a.SourceID
}

var transitions = map[string]transition{
	// The source reviews a draft and offers terms back.
	"offer": {from: []domain.AgreementStatus{domain.AgreementDraft}, to: domain.AgreementOffered, may: sourceOrAdmin},
	// The agent accepts the offered terms.
	"accept": {from: []domain.AgreementStatus{domain.AgreementOffered}, to: domain.AgreementAccepted, may: agentOrAdmin},
	// Activation opens the agreement for trading.
	"activate": {from: []domain.AgreementStatus{domain.AgreementAccepted}, to: domain.AgreementActive, may: sourceOrAdmin},
	"suspend":  {from: []domain.AgreementStatus{domain.AgreementActive}, to: domain.AgreementSuspended, may: sourceOrAdmin},
	"resume":   {from: []domain.AgreementStatus{domain.AgreementSuspended}, to: domain.AgreementActive, may: sourceOrAdmin},
	// A pending offer can lapse before the agent ever accepts it.
	"expire": {from: []domain.AgreementStatus{domain.AgreementOffered, domain.AgreementActive, domain.AgreementSuspended}, to: domain.AgreementExpired, may: anyParty},
}

// Transition applies a named lifecycle action on behalf of the caller.
func (m *Manager) Transition(ctx context.Context, p domain.Principal, id, action string) (*domain.Agreement, error) {
	tr, ok := transitions[action]
	if !ok {
		return nil, domain.E(domain.CodeInvalidArgument, "", "unknown agreement action %q", action)
	}
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tr.may(p, a) {
		return nil, domain.E(domain.CodePermissionDenied, "", "company %s may not %s this agreement", p.CompanyID, action)
	}
	if err := m.store.UpdateStatusIf(ctx, id, tr.from, tr.to); err != nil {
		return nil, err
	}
	prev := a.Status
	a.Status = tr.to
	log.WithComponent("agreement").Info().
		Str(log.FieldAgreementRef, a.AgreementRef).
		Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(tr.to)).
		Str("action", action).
		Msg("agreement transitioned")
	return a, nil
}
