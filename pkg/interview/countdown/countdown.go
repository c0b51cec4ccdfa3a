// Package countdown runs the interview clock: one decrement per second,
// persisted on every tick, with a callback when the clock reaches zero.
package countdown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Ledger owns the session state the timer decrements. Update returns an
// invalid_state error once the session has left the Active phase.
type Ledger interface {
	State() types.SessionState
	Update(ctx context.Context, fn func(*types.SessionState)) (types.SessionState, error)
}

// Timer decrements TimerSecondsRemaining once per interval.
type Timer struct {
	ledger   Ledger
	onExpire func()
	logger   *slog.Logger
	interval time.Duration

	newTicker func(time.Duration) (<-chan time.Time, func())

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Timer.
type Option func(*Timer)

// WithInterval changes the tick period. Each tick still counts as one second.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// New creates a timer. onExpire runs on the timer goroutine after the
// timer has stopped, so it may call Stop.
func New(ledger Ledger, onExpire func(), logger *slog.Logger, opts ...Option) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Timer{
		ledger:   ledger,
		onExpire: onExpire,
		logger:   logger,
		interval: time.Second,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			tk := time.NewTicker(d)
			return tk.C, tk.Stop
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Start begins ticking if the session is started with time remaining. It
// reports whether the timer is running afterwards.
func (t *Timer) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return true
	}
	st := t.ledger.State()
	if !st.Started || st.TimerSecondsRemaining <= 0 {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	ticks, stopTicker := t.newTicker(t.interval)
	go t.run(ctx, ticks, stopTicker, done)
	t.logger.Debug("countdown started", "remaining", st.TimerSecondsRemaining)
	return true
}

// Stop halts the timer and waits for the tick goroutine to exit. No tick is
// applied after Stop returns.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the timer is ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

func (t *Timer) run(ctx context.Context, ticks <-chan time.Time, stopTicker func(), done chan struct{}) {
	expired := false
	defer func() {
		stopTicker()
		t.mu.Lock()
		if t.done == done {
			t.cancel()
			t.cancel, t.done = nil, nil
		}
		t.mu.Unlock()
		close(done)
		if expired && t.onExpire != nil {
			t.onExpire()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}
		if ctx.Err() != nil {
			return
		}
		st, err := t.ledger.Update(ctx, func(st *types.SessionState) {
			if st.TimerSecondsRemaining > 0 {
				st.TimerSecondsRemaining--
			}
		})
		if err != nil {
			if core.IsType(err, core.ErrInvalidState) {
				return
			}
			t.logger.Warn("countdown tick not persisted", "error", err)
		}
		if st.TimerSecondsRemaining <= 0 && err == nil {
			t.logger.Info("countdown expired")
			expired = true
			return
		}
	}
}
