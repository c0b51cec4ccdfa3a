// Package sequencer serves interview questions one at a time and keeps the
// question cursor and attempted count in step with the question source.
package sequencer

import (
	"context"
	"log/slog"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

// QuestionSource fetches the next question. It reports exhaustion with a
// no_more_questions error.
type QuestionSource interface {
	NextQuestion(ctx context.Context) (*types.Question, error)
}

// Ledger is the serialized owner of the session state. Update applies fn
// atomically, normalizes and persists the result.
type Ledger interface {
	State() types.SessionState
	Update(ctx context.Context, fn func(*types.SessionState)) (types.SessionState, error)
}

// Sequencer walks the question list. Calls must be serialized by the caller.
type Sequencer struct {
	source QuestionSource
	ledger Ledger
	logger *slog.Logger
}

func New(source QuestionSource, ledger Ledger, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{source: source, ledger: ledger, logger: logger}
}

// FetchNext fetches a question and counts it as attempted. Exhaustion is
// returned as a no_more_questions error and leaves the count unchanged.
func (s *Sequencer) FetchNext(ctx context.Context) (*types.Question, error) {
	q, err := s.source.NextQuestion(ctx)
	if err != nil {
		if core.IsType(err, core.ErrNoMoreQuestions) {
			s.logger.Info("question source exhausted", "message", err.Error())
		}
		return nil, err
	}
	st, err := s.ledger.Update(ctx, func(st *types.SessionState) {
		st.AttemptedCount++
	})
	if err != nil {
		return q, err
	}
	s.logger.Debug("question fetched", "index", st.QuestionIndex, "attempted", st.AttemptedCount)
	return q, nil
}

// Advance moves to the next question if one exists and fetches it. It
// returns false without fetching when the current question is the last.
func (s *Sequencer) Advance(ctx context.Context) (bool, *types.Question, error) {
	if !s.ledger.State().HasNext() {
		return false, nil, nil
	}
	advanced := false
	if _, err := s.ledger.Update(ctx, func(st *types.SessionState) {
		if st.HasNext() {
			st.QuestionIndex++
			advanced = true
		}
	}); err != nil {
		return false, nil, err
	}
	if !advanced {
		return false, nil, nil
	}
	q, err := s.FetchNext(ctx)
	return true, q, err
}
