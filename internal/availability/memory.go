// SPDX-License-Identifier: MIT

package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// MemoryStore is the default backend: jobs live for their TTL only, so an
// in-process map with a per-store lock is sufficient. Seq allocation happens
// under the lock, which makes commit order equal seq order by construction.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*memJob
	opts  Options
	clock clock
}

type memJob struct {
	job     domain.AvailabilityJob
	results []domain.AvailabilityResult
	nextSeq int64
}

// NewMemoryStore creates an empty in-memory availability store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*memJob),
		opts:  opts.withDefaults(),
		clock: realClock{},
	}
}

// WithClock replaces the store clock. Test hook.
func (s *MemoryStore) WithClock(c clock) *MemoryStore {
	s.clock = c
	return s
}

func (s *MemoryStore) CreateJob(ctx context.Context, agentID string, criteria domain.AvailabilityCriteria, expectedSources int) (*domain.AvailabilityJob, error) {
	job := domain.AvailabilityJob{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		Criteria:        criteria,
		ExpectedSources: expectedSources,
		Status:          domain.JobRunning,
		CreatedAt:       s.clock.Now().UTC(),
	}
	if expectedSources == 0 {
		job.Status = domain.JobComplete
	}

	s.mu.Lock()
	s.jobs[job.ID] = &memJob{job: job, nextSeq: 1}
	s.mu.Unlock()
	return &job, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*domain.AvailabilityJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "", "availability job %s not found", jobID)
	}
	job := j.job
	return &job, nil
}

func (s *MemoryStore) AppendPartial(ctx context.Context, jobID, sourceID string, items []domain.Offer, timedOut bool) error {
	if len(items) == 0 {
		items = []domain.Offer{markerFor(sourceID, timedOut)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.E(domain.CodeNotFound, "", "availability job %s not found", jobID)
	}
	for _, offer := range items {
		offer.SourceID = sourceID
		j.results = append(j.results, domain.AvailabilityResult{
			JobID:    jobID,
			Seq:      j.nextSeq,
			SourceID: sourceID,
			Offer:    offer,
		})
		j.nextSeq++
	}
	return nil
}

func (s *MemoryStore) MarkJobComplete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.E(domain.CodeNotFound, "", "availability job %s not found", jobID)
	}
	j.job.Status = domain.JobComplete
	return nil
}

func (s *MemoryStore) GetJobSince(ctx context.Context, jobID string, sinceSeq int64, wait time.Duration) (*PollResponse, error) {
	wait = clampWait(wait, s.opts.PollWaitMax)
	deadline := s.clock.Now().Add(wait)

	for {
		resp, found, err := s.snapshot(jobID, sinceSeq)
		if err != nil {
			return nil, err
		}
		if found || resp.Complete || wait == 0 {
			return resp, nil
		}
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return resp, nil
		}
		step := s.opts.PollStep
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step):
		}
	}
}

// snapshot reads the current poll view. found reports whether new rows exist.
func (s *MemoryStore) snapshot(jobID string, sinceSeq int64) (*PollResponse, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false, domain.E(domain.CodeNotFound, "", "availability job %s not found", jobID)
	}

	resp := &PollResponse{
		Status:        j.job.Status,
		Complete:      j.job.Status == domain.JobComplete,
		LastSeq:       sinceSeq,
		TotalExpected: j.job.ExpectedSources,
	}

	seen := make(map[string]bool)
	timedOut := make(map[string]bool)
	for _, r := range j.results {
		seen[r.SourceID] = true
		if r.Offer.Error == domain.ResultTimeout {
			timedOut[r.SourceID] = true
		}
		if r.Seq > sinceSeq && len(resp.NewItems) < s.opts.PollBatch {
			resp.NewItems = append(resp.NewItems, r)
			resp.LastSeq = r.Seq
		}
	}
	resp.ResponsesReceived = len(seen)
	for src := range timedOut {
		resp.TimedOutSources = append(resp.TimedOutSources, src)
	}
	sort.Strings(resp.TimedOutSources)
	resp.AggregateETag = aggregateETag(jobID, resp.LastSeq, resp.ResponsesReceived, resp.TotalExpected, len(resp.TimedOutSources))
	return resp, len(resp.NewItems) > 0, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, j := range s.jobs {
		if j.job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
