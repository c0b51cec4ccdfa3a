package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// SessionStore maps types.SessionState onto the logical keys of a Store.
type SessionStore struct {
	kv     Store
	logger *slog.Logger
}

func NewSessionStore(kv Store, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{kv: kv, logger: logger}
}

// TotalQuestions returns the persisted question count, if any.
func (s *SessionStore) TotalQuestions(ctx context.Context) (int, bool, error) {
	return s.getInt(ctx, KeyTotalQuestions)
}

// SetTotalQuestions persists the question count announced by a resume upload.
func (s *SessionStore) SetTotalQuestions(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("total questions must be > 0, got %d", n)
	}
	return s.kv.Set(ctx, KeyTotalQuestions, strconv.Itoa(n))
}

// Load reads the persisted state. Absent or unparsable keys take the value
// from defaults.
func (s *SessionStore) Load(ctx context.Context, defaults types.SessionState) (types.SessionState, error) {
	st := defaults

	if v, ok, err := s.getBool(ctx, KeyStarted); err != nil {
		return types.SessionState{}, err
	} else if ok {
		st.Started = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{KeyTimerSecondsRemaining, &st.TimerSecondsRemaining},
		{KeyQuestionIndex, &st.QuestionIndex},
		{KeyAttemptedCount, &st.AttemptedCount},
		{KeyTotalQuestions, &st.TotalQuestions},
	}
	for _, f := range ints {
		v, ok, err := s.getInt(ctx, f.key)
		if err != nil {
			return types.SessionState{}, err
		}
		if ok {
			*f.dst = v
		}
	}
	return st, nil
}

// Save writes every field of next that differs from prev.
func (s *SessionStore) Save(ctx context.Context, prev, next types.SessionState) error {
	if prev.Started != next.Started {
		if err := s.kv.Set(ctx, KeyStarted, strconv.FormatBool(next.Started)); err != nil {
			return err
		}
	}
	fields := []struct {
		key        string
		prev, next int
	}{
		{KeyTimerSecondsRemaining, prev.TimerSecondsRemaining, next.TimerSecondsRemaining},
		{KeyQuestionIndex, prev.QuestionIndex, next.QuestionIndex},
		{KeyAttemptedCount, prev.AttemptedCount, next.AttemptedCount},
		{KeyTotalQuestions, prev.TotalQuestions, next.TotalQuestions},
	}
	for _, f := range fields {
		if f.prev == f.next {
			continue
		}
		if err := s.kv.Set(ctx, f.key, strconv.Itoa(f.next)); err != nil {
			return err
		}
	}
	return nil
}

// SaveAll writes every field of st.
func (s *SessionStore) SaveAll(ctx context.Context, st types.SessionState) error {
	if err := s.kv.Set(ctx, KeyStarted, strconv.FormatBool(st.Started)); err != nil {
		return err
	}
	for key, v := range map[string]int{
		KeyTimerSecondsRemaining: st.TimerSecondsRemaining,
		KeyQuestionIndex:         st.QuestionIndex,
		KeyAttemptedCount:        st.AttemptedCount,
		KeyTotalQuestions:        st.TotalQuestions,
	} {
		if err := s.kv.Set(ctx, key, strconv.Itoa(v)); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all persisted session keys and queued answers.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.kv.Clear(ctx)
}

func (s *SessionStore) getInt(ctx context.Context, key string) (int, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed persisted value", "key", key, "value", raw)
		return 0, false, nil
	}
	return n, true, nil
}

func (s *SessionStore) getBool(ctx context.Context, key string) (bool, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed persisted value", "key", key, "value", raw)
		return false, false, nil
	}
	return b, true, nil
}
