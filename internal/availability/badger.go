// SPDX-License-Identifier: MIT

package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// BadgerStore persists availability jobs across restarts:
//   - jobs:    key = "job:<id>"        (JSON, carries the seq allocator)
//   - results: key = "res:<id>:<seq>"  (JSON, seq zero-padded for key order)
//
// Entries carry a TTL slightly above the job TTL so abandoned jobs expire
// even if the purge task never runs.
type BadgerStore struct {
	db    *badger.DB
	ttl   time.Duration
	opts  Options
	clock clock
}

type badgerJob struct {
	Job     domain.AvailabilityJob `json:"job"`
	NextSeq int64                  `json:"next_seq"`
}

// OpenBadgerStore opens (or creates) the store at path.
func OpenBadgerStore(path string, jobTTL time.Duration, opts Options) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	if jobTTL <= 0 {
		jobTTL = 10 * time.Minute
	}
	return &BadgerStore{db: db, ttl: jobTTL, opts: opts.withDefaults(), clock: realClock{}}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func jobKey(id string) []byte { return []byte("job:" + id) }

func resultKey(jobID string, seq int64) []byte {
	return []byte(fmt.Sprintf("res:%s:%020d", jobID, seq))
}

func resultPrefix(jobID string) []byte { return []byte("res:" + jobID + ":") }

func (s *BadgerStore) entryTTL() time.Duration { return s.ttl + time.Minute }

func (s *BadgerStore) CreateJob(ctx context.Context, agentID string, criteria domain.AvailabilityCriteria, expectedSources int) (*domain.AvailabilityJob, error) {
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
	rec := badgerJob{Job: job, NextSeq: 1}
	buf, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(jobKey(job.ID), buf).WithTTL(s.entryTTL()))
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &job, nil
}

func (s *BadgerStore) readJob(txn *badger.Txn, jobID string) (*badgerJob, error) {
	item, err := txn.Get(jobKey(jobID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.E(domain.CodeNotFound, "", "availability job %s not found", jobID)
	}
	if err != nil {
		return nil, err
	}
	var rec badgerJob
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) GetJob(ctx context.Context, jobID string) (*domain.AvailabilityJob, error) {
	var job *domain.AvailabilityJob
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.readJob(txn, jobID)
		if err != nil {
			return err
		}
		job = &rec.Job
		return nil
	})
	return job, err
}

// updateRetrying runs fn under db.Update, retrying on write conflicts.
// Concurrent appends to the same job contend on the seq allocator key.
func (s *BadgerStore) updateRetrying(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func (s *BadgerStore) AppendPartial(ctx context.Context, jobID, sourceID string, items []domain.Offer, timedOut bool) error {
	if len(items) == 0 {
		items = []domain.Offer{markerFor(sourceID, timedOut)}
	}
	return s.updateRetrying(func(txn *badger.Txn) error {
		rec, err := s.readJob(txn, jobID)
		if err != nil {
			return err
		}
		for _, offer := range items {
			offer.SourceID = sourceID
			result := domain.AvailabilityResult{
				JobID:    jobID,
				Seq:      rec.NextSeq,
				SourceID: sourceID,
				Offer:    offer,
			}
			buf, err := json.Marshal(result)
			if err != nil {
				return err
			}
			if err := txn.SetEntry(badger.NewEntry(resultKey(jobID, result.Seq), buf).WithTTL(s.entryTTL())); err != nil {
				return err
			}
			rec.NextSeq++
		}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(jobKey(jobID), buf).WithTTL(s.entryTTL()))
	})
}

func (s *BadgerStore) MarkJobComplete(ctx context.Context, jobID string) error {
	return s.updateRetrying(func(txn *badger.Txn) error {
		rec, err := s.readJob(txn, jobID)
		if err != nil {
			return err
		}
		rec.Job.Status = domain.JobComplete
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(jobKey(jobID), buf).WithTTL(s.entryTTL()))
	})
}

func (s *BadgerStore) GetJobSince(ctx context.Context, jobID string, sinceSeq int64, wait time.Duration) (*PollResponse, error) {
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

func (s *BadgerStore) snapshot(jobID string, sinceSeq int64) (*PollResponse, bool, error) {
	var resp *PollResponse
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := s.readJob(txn, jobID)
		if err != nil {
			return err
		}
		resp = &PollResponse{
			Status:        rec.Job.Status,
			Complete:      rec.Job.Status == domain.JobComplete,
			LastSeq:       sinceSeq,
			TotalExpected: rec.Job.ExpectedSources,
		}

		seen := make(map[string]bool)
		timedOut := make(map[string]bool)
		prefix := resultPrefix(jobID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var result domain.AvailabilityResult
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &result) }); err != nil {
				return err
			}
			seen[result.SourceID] = true
			if result.Offer.Error == domain.ResultTimeout {
				timedOut[result.SourceID] = true
			}
			if result.Seq > sinceSeq && len(resp.NewItems) < s.opts.PollBatch {
				resp.NewItems = append(resp.NewItems, result)
				resp.LastSeq = result.Seq
			}
		}
		resp.ResponsesReceived = len(seen)
		for src := range timedOut {
			resp.TimedOutSources = append(resp.TimedOutSources, src)
		}
		sort.Strings(resp.TimedOutSources)
		resp.AggregateETag = aggregateETag(jobID, resp.LastSeq, resp.ResponsesReceived, resp.TotalExpected, len(resp.TimedOutSources))
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return resp, len(resp.NewItems) > 0, nil
}

func (s *BadgerStore) PurgeExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-ttl)
	var expired []string

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("job:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec badgerJob
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			if rec.Job.CreatedAt.Before(cutoff) {
				expired = append(expired, rec.Job.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range expired {
		if err := s.db.DropPrefix(resultPrefix(id)); err != nil {
			return 0, fmt.Errorf("drop results for %s: %w", id, err)
		}
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(jobKey(id)) }); err != nil {
			return 0, fmt.Errorf("delete job %s: %w", id, err)
		}
	}
	return len(expired), nil
}

var _ Store = (*BadgerStore)(nil)
