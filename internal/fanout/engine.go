// SPDX-License-Identifier: MIT

// Package fanout turns one availability request into parallel supplier
// queries whose partial results stream into the availability store.
package fanout

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rentmesh/rentmesh/internal/adapter"
	"github.com/rentmesh/rentmesh/internal/availability"
	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
	"github.com/rentmesh/rentmesh/internal/metrics"
	"github.com/rentmesh/rentmesh/internal/telemetry"
)

// AgreementLister yields an agent's ACTIVE agreements.
type AgreementLister interface {
	ListByAgent(ctx context.Context, agentID string, status domain.AgreementStatus) ([]*domain.Agreement, error)
}

// CoverageChecker is the point test for an agreement and a place.
type CoverageChecker interface {
	Allowed(ctx context.Context, agreementID, sourceID, unlocode string) (bool, error)
}

// HealthTracker excludes slow sources and records samples.
type HealthTracker interface {
	Excluded(ctx context.Context, sourceID string) (bool, error)
	Observe(ctx context.Context, sourceID string, latency time.Duration, timedOut bool) error
}

// AdapterProvider hands out per-source adapters.
type AdapterProvider interface {
	Get(ctx context.Context, sourceID string) (adapter.SourceAdapter, error)
}

// Options tune the fan-out.
type Options struct {
	CallTimeout   time.Duration // per-source budget (default 10s)
	SLA           time.Duration // whole-job budget (default 2m)
	SLAHardCancel bool          // cancel stragglers at the SLA instead of warning
	Concurrency   int           // max in-flight supplier calls per job (default 10)
	RecommendPoll time.Duration // poll interval hint returned to clients (default 1.5s)
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.SLA <= 0 {
		o.SLA = 2 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.RecommendPoll <= 0 {
		o.RecommendPoll = 1500 * time.Millisecond
	}
	return o
}

// Engine runs availability fan-outs.
type Engine struct {
	agreements AgreementLister
	coverage   CoverageChecker
	health     HealthTracker
	adapters   AdapterProvider
	store      availability.Store
	opts       Options
}

// NewEngine wires the engine.
func NewEngine(agreements AgreementLister, coverage CoverageChecker, health HealthTracker, adapters AdapterProvider, store availability.Store, opts Options) *Engine {
	return &Engine{
		agreements: agreements,
		coverage:   coverage,
		health:     health,
		adapters:   adapters,
		store:      store,
		opts:       opts.withDefaults(),
	}
}

// SubmitResult is the synchronous answer to a Submit.
type SubmitResult struct {
	RequestID         string `json:"request_id"`
	ExpectedSources   int    `json:"expected_sources"`
	RecommendedPollMS int    `json:"recommended_poll_ms"`
}

// target is one eligible (agreement, source) pair.
type target struct {
	agreementID  string
	agreementRef string
	sourceID     string
}

// Submit resolves eligible sources, registers the job and launches the
// fan-out in the background. A request with no eligible sources still gets
// a job so the poll contract holds; it is COMPLETE from the start.
func (e *Engine) Submit(ctx context.Context, p domain.Principal, criteria domain.AvailabilityCriteria) (*SubmitResult, error) {
	if err := validateCriteria(criteria); err != nil {
		return nil, err
	}

	targets, err := e.resolveTargets(ctx, p.CompanyID, criteria)
	if err != nil {
		return nil, err
	}

	// Several agreements may share a source; the poll view counts distinct
	// sources, so the expected count must as well.
	expected := distinctSources(targets)
	job, err := e.store.CreateJob(ctx, p.CompanyID, criteria, expected)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("fanout").With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldAgentID, p.CompanyID).
		Logger()
	logger.Info().
		Int(log.FieldExpected, expected).
		Str("pickup", criteria.PickupUnlocode).
		Msg("availability fan-out submitted")

	if len(targets) > 0 {
		go e.run(job.ID, criteria, targets)
	} else {
		metrics.RecordFanoutJob("empty")
	}

	return &SubmitResult{
		RequestID:         job.ID,
		ExpectedSources:   expected,
		RecommendedPollMS: int(e.opts.RecommendPoll / time.Millisecond),
	}, nil
}

func distinctSources(targets []target) int {
	return len(lo.UniqBy(targets, func(t target) string { return t.sourceID }))
}

// resolveTargets filters the agent's active agreements down to those that
// match the requested refs, cover both the pickup and the dropoff place
// and are not excluded.
func (e *Engine) resolveTargets(ctx context.Context, agentID string, criteria domain.AvailabilityCriteria) ([]target, error) {
	active, err := e.agreements.ListByAgent(ctx, agentID, domain.AgreementActive)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, ref := range criteria.AgreementRefs {
		wanted[ref] = true
	}

	var targets []target
	for _, a := range active {
		if len(wanted) > 0 && !wanted[a.AgreementRef] {
			continue
		}
		covered, err := e.coverage.Allowed(ctx, a.ID, a.SourceID, criteria.PickupUnlocode)
		if err != nil {
			return nil, err
		}
		if covered && criteria.DropoffUnlocode != criteria.PickupUnlocode {
			covered, err = e.coverage.Allowed(ctx, a.ID, a.SourceID, criteria.DropoffUnlocode)
			if err != nil {
				return nil, err
			}
		}
		if !covered {
			continue
		}
		excluded, err := e.health.Excluded(ctx, a.SourceID)
		if err != nil {
			return nil, err
		}
		if excluded {
			log.WithComponent("fanout").Debug().
				Str(log.FieldSourceID, a.SourceID).
				Msg("source skipped: excluded for slowness")
			continue
		}
		targets = append(targets, target{agreementID: a.ID, agreementRef: a.AgreementRef, sourceID: a.SourceID})
	}
	return targets, nil
}

// run executes the fan-out detached from the submitting request. It owns
// the job's completion.
func (e *Engine) run(jobID string, criteria domain.AvailabilityCriteria, targets []target) {
	ctx, span := telemetry.Tracer("fanout").Start(context.Background(), "fanout.run",
		trace.WithAttributes(telemetry.FanoutAttributes(jobID, len(targets))...))
	defer span.End()
	slaCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.WithComponent("fanout").With().Str(log.FieldJobID, jobID).Logger()
	start := time.Now()

	slaTimer := time.AfterFunc(e.opts.SLA, func() {
		if e.opts.SLAHardCancel {
			logger.Warn().Dur("sla", e.opts.SLA).Msg("fan-out exceeded its SLA, cancelling stragglers")
			cancel()
		} else {
			logger.Warn().Dur("sla", e.opts.SLA).Msg("fan-out exceeded its SLA")
		}
	})
	defer slaTimer.Stop()

	g, gctx := errgroup.WithContext(slaCtx)
	g.SetLimit(e.opts.Concurrency)
	for _, tgt := range targets {
		tgt := tgt
		g.Go(func() error {
			e.queryOne(gctx, jobID, criteria, tgt)
			return nil
		})
	}
	_ = g.Wait()

	if err := e.store.MarkJobComplete(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("marking fan-out complete failed")
		metrics.RecordFanoutJob("error")
		return
	}
	metrics.RecordFanoutJob("complete")
	logger.Info().
		Int(log.FieldExpected, distinctSources(targets)).
		Int64(log.FieldLatencyMS, time.Since(start).Milliseconds()).
		Msg("availability fan-out complete")
}

// queryOne runs a single supplier call and commits its outcome. Every path
// appends exactly one batch (offers or a marker) for the source.
func (e *Engine) queryOne(ctx context.Context, jobID string, criteria domain.AvailabilityCriteria, tgt target) {
	metrics.FanoutWorkerStarted()
	defer metrics.FanoutWorkerDone()

	ctx, span := telemetry.Tracer("fanout").Start(ctx, "fanout.query",
		trace.WithAttributes(telemetry.SourceCallAttributes(tgt.sourceID, tgt.agreementRef, "availability")...))
	defer span.End()

	logger := log.WithComponent("fanout").With().
		Str(log.FieldJobID, jobID).
		Str(log.FieldSourceID, tgt.sourceID).
		Logger()

	a, err := e.adapters.Get(ctx, tgt.sourceID)
	if err != nil {
		logger.Error().Err(err).Msg("no adapter for source")
		e.appendError(ctx, jobID, tgt, domain.ResultSourceError, err.Error())
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	offers, err := a.Availability(callCtx, adapter.AvailabilityRequest{
		AgreementRef: tgt.agreementRef,
		Criteria:     criteria,
	})
	elapsed := time.Since(start)
	err = adapter.Classify(err, tgt.sourceID)

	timedOut := err != nil && domain.CodeOf(err) == domain.CodeDeadlineExceeded
	if obsErr := e.health.Observe(ctx, tgt.sourceID, elapsed, timedOut); obsErr != nil {
		logger.Warn().Err(obsErr).Msg("recording health sample failed")
	}

	switch {
	case timedOut:
		metrics.ObserveAdapterCall(tgt.sourceID, "availability", "timeout", elapsed)
		if appendErr := e.store.AppendPartial(ctx, jobID, tgt.sourceID, nil, true); appendErr != nil {
			logger.Error().Err(appendErr).Msg("committing timeout marker failed")
		}
	case err != nil:
		metrics.ObserveAdapterCall(tgt.sourceID, "availability", "error", elapsed)
		logger.Warn().Err(err).Int64(log.FieldLatencyMS, elapsed.Milliseconds()).Msg("source query failed")
		e.appendError(ctx, jobID, tgt, domain.ResultSourceError, err.Error())
	default:
		metrics.ObserveAdapterCall(tgt.sourceID, "availability", "ok", elapsed)
		for i := range offers {
			offers[i].AgreementRef = tgt.agreementRef
		}
		if appendErr := e.store.AppendPartial(ctx, jobID, tgt.sourceID, offers, false); appendErr != nil {
			logger.Error().Err(appendErr).Msg("committing offers failed")
		}
	}
}

func (e *Engine) appendError(ctx context.Context, jobID string, tgt target, kind domain.ResultError, msg string) {
	marker := domain.Offer{
		SourceID:     tgt.sourceID,
		AgreementRef: tgt.agreementRef,
		Error:        kind,
		ErrorMessage: msg,
	}
	if err := e.store.AppendPartial(ctx, jobID, tgt.sourceID, []domain.Offer{marker}, false); err != nil {
		log.WithComponent("fanout").Error().Err(err).
			Str(log.FieldJobID, jobID).
			Str(log.FieldSourceID, tgt.sourceID).
			Msg("committing error marker failed")
	}
}

// Poll reads new results for the caller's job, long-polling up to wait.
func (e *Engine) Poll(ctx context.Context, p domain.Principal, jobID string, sinceSeq int64, wait time.Duration) (*availability.PollResponse, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		metrics.RecordPoll("not_found")
		return nil, err
	}
	if p.Type != domain.CompanyAdmin && job.AgentID != p.CompanyID {
		metrics.RecordPoll("denied")
		return nil, domain.E(domain.CodePermissionDenied, "", "request %s belongs to another agent", jobID)
	}
	resp, err := e.store.GetJobSince(ctx, jobID, sinceSeq, wait)
	if err != nil {
		metrics.RecordPoll("error")
		return nil, err
	}
	metrics.RecordPoll("ok")
	return resp, nil
}
