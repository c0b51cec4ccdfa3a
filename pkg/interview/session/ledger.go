package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/interview/store"
)

type persistMode int

const (
	persistDiff persistMode = iota
	persistAll
	persistClear
	persistNone
)

// record is everything the ledger owns. Values handed out are copies.
type record struct {
	Phase    types.Phase
	State    types.SessionState
	Question *types.Question
	Reason   types.FinalizeReason
}

// ledger serializes every mutation of the session record on one goroutine
// and writes the result through to the store before replying.
type ledger struct {
	sessions *store.SessionStore
	logger   *slog.Logger

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	cur  record
	view atomic.Pointer[record]
}

func newLedger(sessions *store.SessionStore, initial record, logger *slog.Logger) *ledger {
	l := &ledger{
		sessions: sessions,
		logger:   logger,
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		cur:      initial,
	}
	snapshot := initial
	l.view.Store(&snapshot)
	go l.run()
	return l
}

func (l *ledger) run() {
	defer close(l.done)
	for {
		select {
		case op := <-l.ops:
			op()
		case <-l.quit:
			return
		}
	}
}

func (l *ledger) stop() {
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
	<-l.done
}

// current returns the last committed record.
func (l *ledger) current() record {
	return *l.view.Load()
}

// exec applies fn to a copy of the record on the ledger goroutine. If fn
// fails nothing is committed. Persistence failures are logged and the
// in-memory record is still committed.
func (l *ledger) exec(ctx context.Context, fn func(*record) (persistMode, error)) (record, error) {
	type result struct {
		rec record
		err error
	}
	reply := make(chan result, 1)
	op := func() {
		prev := l.cur
		next := prev
		mode, err := fn(&next)
		if err != nil {
			reply <- result{rec: prev, err: err}
			return
		}
		next.State = next.State.Normalize()

		wctx := context.WithoutCancel(ctx)
		var perr error
		switch mode {
		case persistDiff:
			if next.State != prev.State {
				perr = l.sessions.Save(wctx, prev.State, next.State)
			}
		case persistAll:
			perr = l.sessions.SaveAll(wctx, next.State)
		case persistClear:
			perr = l.sessions.Clear(wctx)
		}
		if perr != nil {
			l.logger.Warn("session state not persisted", "error", perr)
		}

		l.cur = next
		snapshot := next
		l.view.Store(&snapshot)
		reply <- result{rec: next}
	}

	select {
	case l.ops <- op:
	case <-l.quit:
		return l.current(), core.NewInvalidStateError("session is closed")
	case <-ctx.Done():
		return l.current(), ctx.Err()
	}
	r := <-reply
	return r.rec, r.err
}

// activeLedger exposes the session state to the sequencer and timer. Its
// updates are refused once the session has left the Active phase.
type activeLedger struct {
	l *ledger
}

func (a activeLedger) State() types.SessionState {
	return a.l.current().State
}

func (a activeLedger) Update(ctx context.Context, fn func(*types.SessionState)) (types.SessionState, error) {
	rec, err := a.l.exec(ctx, func(r *record) (persistMode, error) {
		if r.Phase != types.PhaseActive {
			return persistNone, core.NewInvalidStateError("session is " + r.Phase.String())
		}
		fn(&r.State)
		return persistDiff, nil
	})
	return rec.State, err
}
