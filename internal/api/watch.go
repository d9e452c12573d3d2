package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/pkg/types"
)

const (
	// DefaultPollInterval is the delay between status polls.
	DefaultPollInterval = 2 * time.Second
	// DefaultMaxTransientFailures is how many consecutive poll
	// failures are tolerated before the watch gives up.
	DefaultMaxTransientFailures = 5
)

// ErrPollBudgetExhausted is returned when consecutive poll failures
// exceed the transient tolerance.
var ErrPollBudgetExhausted = errors.New("api: poll failure budget exhausted")

// WatchConfig tunes a job watch. Zero fields take package defaults.
type WatchConfig struct {
	PollInterval         time.Duration
	MaxTransientFailures int

	// OnUpdate receives every accepted status snapshot, including the
	// terminal one. Rejected stale updates are not delivered.
	OnUpdate func(*types.JobState)
}

// Watcher polls one job to completion and locks the observed status
// once it turns terminal: after completed or failed is seen, no
// further polls are issued and later non-terminal reports are
// rejected.
type Watcher struct {
	client *Client
	jobID  string
	cfg    WatchConfig

	mu      sync.Mutex
	current *types.JobState
}

// NewWatcher creates a Watcher for one job id.
func NewWatcher(client *Client, jobID string, cfg WatchConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxTransientFailures <= 0 {
		cfg.MaxTransientFailures = DefaultMaxTransientFailures
	}
	return &Watcher{client: client, jobID: jobID, cfg: cfg}
}

// Current returns the last accepted snapshot, nil before the first.
func (w *Watcher) Current() *types.JobState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Apply merges one status snapshot, enforcing the terminal lock. It
// returns false when the snapshot was rejected as a stale non-terminal
// report after a terminal state was already observed.
func (w *Watcher) Apply(state *types.JobState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.Status.Terminal() && !state.Status.Terminal() {
		logger.Warn("API", "Ignoring stale %s report for job %s after terminal %s",
			state.Status, w.jobID, w.current.Status)
		return false
	}
	w.current = state
	return true
}

// Wait polls until the job reaches a terminal state and returns the
// final snapshot. Individual poll failures are transient up to the
// configured budget; the context cancels the watch.
func (w *Watcher) Wait(ctx context.Context) (*types.JobState, error) {
	if current := w.Current(); current != nil && current.Status.Terminal() {
		return current, nil
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		state, err := w.client.GetJob(ctx, w.jobID)
		if err != nil {
			failures++
			logger.Warn("API", "Poll %d/%d for job %s failed: %v",
				failures, w.cfg.MaxTransientFailures, w.jobID, err)
			if failures >= w.cfg.MaxTransientFailures {
				return nil, fmt.Errorf("%w: job %s: %v", ErrPollBudgetExhausted, w.jobID, err)
			}
		} else {
			failures = 0
			if w.Apply(state) && w.cfg.OnUpdate != nil {
				w.cfg.OnUpdate(state)
			}
			if state.Status.Terminal() {
				logger.Info("API", "Job %s finished: %s", w.jobID, state.Status)
				return state, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
