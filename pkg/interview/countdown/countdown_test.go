package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type memLedger struct {
	mu     sync.Mutex
	state  types.SessionState
	closed bool
}

func (l *memLedger) State() types.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *memLedger) Update(_ context.Context, fn func(*types.SessionState)) (types.SessionState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return l.state, core.NewInvalidStateError("session is not active")
	}
	fn(&l.state)
	l.state = l.state.Normalize()
	return l.state, nil
}

func (l *memLedger) remaining() int {
	return l.State().TimerSecondsRemaining
}

func waitRemaining(t *testing.T, l *memLedger, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if l.remaining() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("remaining=%d, want %d", l.remaining(), want)
}

func newTestTimer(ledger Ledger, onExpire func()) (*Timer, chan time.Time) {
	ticks := make(chan time.Time)
	t := New(ledger, onExpire, nil)
	t.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}
	return t, ticks
}

// tick delivers one tick and reports whether the timer consumed it.
func tick(ticks chan time.Time) bool {
	select {
	case ticks <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestTimer_ExpiresAtZero(t *testing.T) {
	ledger := &memLedger{state: types.SessionState{Started: true, TotalQuestions: 2, TimerSecondsRemaining: 1}}
	expired := make(chan struct{}, 2)
	timer, ticks := newTestTimer(ledger, func() { expired <- struct{}{} })

	if !timer.Start(context.Background()) {
		t.Fatalf("timer did not start")
	}
	if !tick(ticks) {
		t.Fatalf("tick not consumed")
	}
	select {
	case <-expired:
	case <-time.After(3 * time.Second):
		t.Fatalf("onExpire not called")
	}
	if got := ledger.remaining(); got != 0 {
		t.Fatalf("remaining=%d, want 0", got)
	}
	if timer.Running() {
		t.Fatalf("timer still running after expiry")
	}
	if tick(ticks) {
		t.Fatalf("timer consumed a tick after expiry")
	}
	if len(expired) != 0 {
		t.Fatalf("onExpire called more than once")
	}
}

func TestTimer_PersistsEachTick(t *testing.T) {
	ledger := &memLedger{state: types.SessionState{Started: true, TotalQuestions: 2, TimerSecondsRemaining: 5}}
	timer, ticks := newTestTimer(ledger, nil)
	timer.Start(context.Background())
	defer timer.Stop()

	tick(ticks)
	tick(ticks)
	waitRemaining(t, ledger, 3)
	timer.Stop()
	if got := ledger.remaining(); got != 3 {
		t.Fatalf("remaining=%d after Stop, want 3", got)
	}
}

func TestTimer_StopHaltsTicking(t *testing.T) {
	ledger := &memLedger{state: types.SessionState{Started: true, TotalQuestions: 2, TimerSecondsRemaining: 10}}
	timer, ticks := newTestTimer(ledger, func() { t.Errorf("unexpected expiry") })
	timer.Start(context.Background())
	tick(ticks)
	waitRemaining(t, ledger, 9)
	timer.Stop()
	timer.Stop()
	if timer.Running() {
		t.Fatalf("running after Stop")
	}
	if tick(ticks) {
		t.Fatalf("tick consumed after Stop")
	}
	if got := ledger.remaining(); got != 9 {
		t.Fatalf("remaining=%d, want 9", got)
	}
}

func TestTimer_DoesNotStartWhenIdle(t *testing.T) {
	for _, st := range []types.SessionState{
		{Started: false, TotalQuestions: 1, TimerSecondsRemaining: 30},
		{Started: true, TotalQuestions: 1, TimerSecondsRemaining: 0},
	} {
		timer, _ := newTestTimer(&memLedger{state: st}, nil)
		if timer.Start(context.Background()) {
			t.Fatalf("timer started for %+v", st)
		}
	}
}

func TestTimer_ExitsWhenSessionLeavesActive(t *testing.T) {
	ledger := &memLedger{state: types.SessionState{Started: true, TotalQuestions: 2, TimerSecondsRemaining: 10}}
	timer, ticks := newTestTimer(ledger, func() { t.Errorf("unexpected expiry") })
	timer.Start(context.Background())

	ledger.mu.Lock()
	ledger.closed = true
	ledger.mu.Unlock()
	tick(ticks)

	deadline := time.Now().Add(3 * time.Second)
	for timer.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if timer.Running() {
		t.Fatalf("timer still running after session left Active")
	}
}

func TestTimer_StopFromExpireCallback(t *testing.T) {
	ledger := &memLedger{state: types.SessionState{Started: true, TotalQuestions: 1, TimerSecondsRemaining: 1}}
	var timer *Timer
	returned := make(chan struct{})
	timer, ticks := newTestTimer(ledger, func() {
		timer.Stop()
		close(returned)
	})
	timer.Start(context.Background())
	tick(ticks)
	select {
	case <-returned:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop inside onExpire deadlocked")
	}
}
