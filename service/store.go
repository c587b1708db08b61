package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/threewaymatch/backend/workflow"
)

// Run statuses
const (
	RunPending    = "pending"
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// MatchRun is one asynchronous reconciliation run.
type MatchRun struct {
	ID          string           `json:"id"`
	Username    string           `json:"username"`
	POFilename  string           `json:"po_filename"`
	DNFilename  string           `json:"dn_filename"`
	INVFilename string           `json:"inv_filename"`
	Status      string           `json:"status"` // pending, processing, completed, failed
	Result      *workflow.Result `json:"result,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RunStore is an in-memory store for match runs. Runs do not survive a
// restart; the service keeps no history beyond the running process.
type RunStore struct {
	runs    map[string]*MatchRun
	mu      sync.RWMutex
	maxRuns int // Maximum runs to keep, 0 = unlimited
}

func NewRunStore(maxRuns int) *RunStore {
	if maxRuns < 0 {
		maxRuns = 0
	}
	return &RunStore{
		runs:    make(map[string]*MatchRun),
		maxRuns: maxRuns,
	}
}

func (s *RunStore) Save(run *MatchRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.UpdatedAt = time.Now()
	s.runs[run.ID] = run

	s.cleanupIfNeeded()
}

func (s *RunStore) Get(id string) *MatchRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

// GetByUser returns the user's runs, newest first.
func (s *RunStore) GetByUser(username string) []*MatchRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*MatchRun
	for _, r := range s.runs {
		if r.Username == username {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *RunStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}

func (s *RunStore) UpdateStatus(id, status, errDetail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		r.Status = status
		r.ErrorDetail = errDetail
		r.UpdatedAt = time.Now()
	}
}

// SetResult stores a successful result and completes the run.
func (s *RunStore) SetResult(id string, result *workflow.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		r.Result = result
		r.Status = RunCompleted
		r.ErrorDetail = ""
		r.UpdatedAt = time.Now()
	}
}

// cleanupIfNeeded removes the oldest runs when the store exceeds
// maxRuns. Must be called with the lock held.
func (s *RunStore) cleanupIfNeeded() {
	if s.maxRuns <= 0 {
		return
	}
	if len(s.runs) <= s.maxRuns {
		return
	}

	runs := make([]*MatchRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	removeCount := len(runs) - s.maxRuns
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old match run",
			"run_id", runs[i].ID,
			"created_at", runs[i].CreatedAt,
		)
		delete(s.runs, runs[i].ID)
	}
}

// Count returns the number of runs in the store
func (s *RunStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
