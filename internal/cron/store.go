// Package cron provides the durable job scheduler. Jobs are one-shot
// (trigger_ts) or recurring (cron_expr) and fire by publishing synthetic
// inbound messages, so scheduled work flows through the same pipeline as
// user messages.
package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// JobContext tells the scheduler where a firing should be delivered.
type JobContext struct {
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id,omitempty"`
}

// Job is one scheduled firing. One-shot jobs carry only TriggerAt; recurring
// jobs carry CronExpr plus the next computed TriggerAt. Exactly one of the
// two must be supplied at creation time.
type Job struct {
	ID          string     `json:"id"`
	TriggerAt   float64    `json:"trigger_ts,omitempty"` // unix seconds
	CronExpr    string     `json:"cron_expr,omitempty"`
	TZOffsetMin int        `json:"tz_offset_min,omitempty"`
	Payload     string     `json:"payload"`
	Context     JobContext `json:"context"`
	CreatedAt   float64    `json:"created_at"`
}

// Recurring reports whether the job reschedules itself after firing.
func (j *Job) Recurring() bool { return j.CronExpr != "" }

// TriggerTime converts the float trigger to a time.Time.
func (j *Job) TriggerTime() time.Time {
	sec := int64(j.TriggerAt)
	nsec := int64((j.TriggerAt - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Store is the durable job index backed by a single JSON file.
type Store struct {
	path string

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewStore loads the job file at path, creating parent directories as
// needed. Jobs with neither a trigger nor a cron expression are dropped
// with a warning.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, jobs: make(map[string]*Job)}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create scheduler dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read scheduler store: %w", err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parse scheduler store: %w", err)
	}

	now := time.Now()
	for _, j := range jobs {
		if j.TriggerAt == 0 && j.CronExpr == "" {
			slog.Warn("dropping scheduled job with no trigger", "id", j.ID, "payload", j.Payload)
			continue
		}
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		// A recurring job that lost its computed trigger gets a fresh one.
		if j.CronExpr != "" && j.TriggerAt == 0 {
			next, err := nextCronTick(j.CronExpr, j.TZOffsetMin, now)
			if err != nil {
				slog.Warn("dropping scheduled job with bad cron expression", "id", j.ID, "expr", j.CronExpr, "error", err)
				continue
			}
			j.TriggerAt = float64(next.Unix())
		}
		s.jobs[j.ID] = j
	}
	return nil
}

// Add validates and persists a new job, returning its id. For recurring
// jobs without an explicit first trigger, the first firing is computed from
// now; an explicit trigger is used verbatim for the first firing.
func (s *Store) Add(job Job) (string, error) {
	if job.TriggerAt == 0 && job.CronExpr == "" {
		return "", fmt.Errorf("job needs either a trigger time or a cron expression")
	}
	if job.CronExpr != "" {
		if !gronx.New().IsValid(job.CronExpr) {
			return "", fmt.Errorf("invalid cron expression: %q", job.CronExpr)
		}
		if job.TriggerAt == 0 {
			next, err := nextCronTick(job.CronExpr, job.TZOffsetMin, time.Now())
			if err != nil {
				return "", err
			}
			job.TriggerAt = float64(next.Unix())
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = float64(time.Now().UnixNano()) / 1e9
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, job.ID)
		return "", err
	}
	return job.ID, nil
}

// Remove deletes a job by id. Returns false when the id is unknown.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, s.saveLocked()
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns all jobs ordered by next trigger time.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].TriggerAt < out[k].TriggerAt })
	return out
}

// TakeDue selects jobs due at now, advances recurring ones to their next
// tick (computed from now, so missed periods during downtime collapse into
// at most one firing), removes exhausted one-shots, and writes the file
// once if anything changed. Returned copies are safe to fire concurrently.
func (s *Store) TakeDue(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	changed := false
	for id, j := range s.jobs {
		if j.TriggerAt == 0 || float64(now.Unix()) < j.TriggerAt {
			continue
		}
		due = append(due, *j)
		if j.Recurring() {
			next, err := nextCronTick(j.CronExpr, j.TZOffsetMin, now)
			if err != nil {
				slog.Warn("removing job with bad cron expression", "id", id, "expr", j.CronExpr, "error", err)
				delete(s.jobs, id)
			} else {
				j.TriggerAt = float64(next.Unix())
			}
		} else {
			delete(s.jobs, id)
		}
		changed = true
	}
	if changed {
		if err := s.saveLocked(); err != nil {
			slog.Error("scheduler store write failed", "error", err)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].TriggerAt < due[k].TriggerAt })
	return due
}

func (s *Store) saveLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt < jobs[k].CreatedAt })
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cron-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// nextCronTick evaluates the expression in the job's fixed timezone offset
// and returns the next absolute instant strictly after ref.
func nextCronTick(expr string, tzOffsetMin int, ref time.Time) (time.Time, error) {
	loc := time.UTC
	if tzOffsetMin != 0 {
		loc = time.FixedZone("job", tzOffsetMin*60)
	}
	next, err := gronx.NextTickAfter(expr, ref.In(loc), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("evaluate cron expression %q: %w", expr, err)
	}
	return next, nil
}
