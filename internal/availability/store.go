// SPDX-License-Identifier: MIT

// Package availability persists fan-out jobs and their ordered partial
// results, and serves the long-poll read path.
package availability

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// Options tune the poll read path. Zero values fall back to the defaults.
type Options struct {
	PollBatch   int           // max rows returned per poll (default 200)
	PollStep    time.Duration // long-poll recheck granularity (default 200ms, capped there)
	PollWaitMax time.Duration // wait_ms clamp ceiling (default 10s)
}

func (o Options) withDefaults() Options {
	if o.PollBatch <= 0 {
		o.PollBatch = 200
	}
	if o.PollStep <= 0 || o.PollStep > 200*time.Millisecond {
		o.PollStep = 200 * time.Millisecond
	}
	if o.PollWaitMax <= 0 {
		o.PollWaitMax = 10 * time.Second
	}
	return o
}

// PollResponse is the result of one GetJobSince call.
type PollResponse struct {
	Status            domain.AvailabilityJobStatus
	Complete          bool
	NewItems          []domain.AvailabilityResult
	LastSeq           int64
	ResponsesReceived int
	TotalExpected     int
	TimedOutSources   []string
	AggregateETag     string
}

// Store owns availability jobs and their results.
//
// Seq contract: AppendPartial allocates a contiguous block of per-job seq
// numbers atomically; commit order equals seq order, and a consumer polling
// with non-decreasing sinceSeq observes every row exactly once.
type Store interface {
	// CreateJob registers a Submit. Status is COMPLETE immediately when
	// expectedSources is zero.
	CreateJob(ctx context.Context, agentID string, criteria domain.AvailabilityCriteria, expectedSources int) (*domain.AvailabilityJob, error)

	// GetJob fetches a job by id.
	GetJob(ctx context.Context, jobID string) (*domain.AvailabilityJob, error)

	// AppendPartial commits one source's items. An empty items slice writes a
	// single synthetic marker: TIMEOUT when timedOut, NO_RESULT otherwise.
	AppendPartial(ctx context.Context, jobID, sourceID string, items []domain.Offer, timedOut bool) error

	// MarkJobComplete transitions the job to COMPLETE.
	MarkJobComplete(ctx context.Context, jobID string) error

	// GetJobSince reads rows with seq > sinceSeq, long-polling up to wait
	// (clamped to [0, PollWaitMax]) while the job is RUNNING and no new rows
	// exist.
	GetJobSince(ctx context.Context, jobID string, sinceSeq int64, wait time.Duration) (*PollResponse, error)

	// PurgeExpired deletes jobs older than ttl together with their results,
	// returning the number of jobs removed.
	PurgeExpired(ctx context.Context, ttl time.Duration) (int, error)

	Close() error
}

// clock abstracts time for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// aggregateETag is a deterministic fingerprint of the poll view.
func aggregateETag(jobID string, lastSeq int64, responsesReceived, totalExpected, timedOut int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%d|%d", jobID, lastSeq, responsesReceived, totalExpected, timedOut)
	return fmt.Sprintf("%016x", h.Sum64())
}

// clampWait bounds a requested long-poll wait.
func clampWait(wait, max time.Duration) time.Duration {
	if wait < 0 {
		return 0
	}
	if wait > max {
		return max
	}
	return wait
}

// markerFor builds the synthetic offer recorded for an empty append.
func markerFor(sourceID string, timedOut bool) domain.Offer {
	kind := domain.ResultNoResult
	msg := "source returned no offers"
	if timedOut {
		kind = domain.ResultTimeout
		msg = "source did not respond within the per-call timeout"
	}
	return domain.Offer{SourceID: sourceID, Error: kind, ErrorMessage: msg}
}
