package coordstate

import (
	"context"
	"time"

	uatomic "go.uber.org/atomic"

	"github.com/meesign/meesignd/internal/metrics"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/log"
)

var timerLogger = log.NewModuleLogger(log.Timer)

// DefaultStallTimeout is the suggested default: a
// task sitting without progress longer than this is eligible for restart.
const DefaultStallTimeout = 30 * time.Second

// Timer is the cooperative 1s sweep: it asks
// Repository which tasks have stalled and restarts each through State, and
// calls ActivateDevice for every device with a live subscription. Delivery
// to subscribers uses a non-blocking try-send so a stalled sweep never
// blocks on a slow or abandoned receiver.
type Timer struct {
	state        *State
	repo         repository.Repository
	stallTimeout time.Duration

	stop   chan struct{}
	ticks  uatomic.Int64
}

// Ticks returns the number of sweeps the Timer has completed.
func (t *Timer) Ticks() int64 {
	return t.ticks.Load()
}

// NewTimer builds a Timer bound to state/repo. A zero stallTimeout uses
// DefaultStallTimeout.
func NewTimer(state *State, repo repository.Repository, stallTimeout time.Duration) *Timer {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Timer{
		state:        state,
		repo:         repo,
		stallTimeout: stallTimeout,
		stop:         make(chan struct{}),
	}
}

// Start launches the sweep loop in a new goroutine; Stop ends it.
func (t *Timer) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop ends the sweep loop. It is not idempotent: a second call panics.
func (t *Timer) Stop() {
	close(t.stop)
}

func (t *Timer) run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.tick(ctx)
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		}
	}
}

func (t *Timer) tick(ctx context.Context) {
	defer t.ticks.Inc()
	stalled, err := t.repo.GetTasksForRestart(ctx, t.stallTimeout)
	if err != nil {
		timerLogger.Error("failed to query stalled tasks", "err", err)
	} else {
		for _, row := range stalled {
			restarted, err := t.state.RestartTask(ctx, row.ID)
			if err != nil {
				timerLogger.Warn("restart failed", "task", row.ID, "err", err)
				continue
			}
			if restarted {
				metrics.TasksRestarted.Inc()
			}
		}
	}

	t.activateSubscribed(ctx)
}

// activateSubscribed refreshes last_active for every device that still
// holds a live subscription.
func (t *Timer) activateSubscribed(ctx context.Context) {
	t.state.subMu.Lock()
	devices := make([][]byte, 0, len(t.state.subscribers))
	for key := range t.state.subscribers {
		devices = append(devices, []byte(key))
	}
	t.state.subMu.Unlock()

	for _, device := range devices {
		if _, err := t.repo.ActivateDevice(ctx, device); err != nil {
			timerLogger.Warn("failed to activate device", "device", device, "err", err)
		}
	}
}
