package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// RunStore keeps background run metadata and results in memory.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]vacancy.Run
	results map[string][]vacancy.Result
	now     func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]vacancy.Run),
		results: make(map[string][]vacancy.Result),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run vacancy.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and counters for a run and stamps start and finish times.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status vacancy.RunStatus,
	errText string,
	counters vacancy.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", vacancy.ErrRunNotFound, runID)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := s.now()
	if status == vacancy.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if status.Terminal() && run.Finished == nil {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// SaveResults replaces the results recorded for a run.
func (s *RunStore) SaveResults(_ context.Context, runID string, results []vacancy.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", vacancy.ErrRunNotFound, runID)
	}
	s.results[runID] = append([]vacancy.Result(nil), results...)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (vacancy.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return vacancy.Run{}, fmt.Errorf("%w: %s", vacancy.ErrRunNotFound, runID)
	}
	return run, nil
}

// ListResults returns a copy of the results of a run.
func (s *RunStore) ListResults(_ context.Context, runID string) ([]vacancy.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", vacancy.ErrRunNotFound, runID)
	}
	results := s.results[runID]
	out := make([]vacancy.Result, len(results))
	copy(out, results)
	return out, nil
}
