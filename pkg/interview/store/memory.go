package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Memory is an in-process Backend. It is used for tests and for sessions
// that do not need to survive the process.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
	outbox map[string]types.Answer
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
		outbox: make(map[string]types.Answer),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	m.outbox = make(map[string]types.Answer)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Enqueue(_ context.Context, answer types.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	answer.Audio = append([]byte(nil), answer.Audio...)
	m.outbox[answer.ID] = answer
	return nil
}

func (m *Memory) Pending(_ context.Context) ([]types.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Answer, 0, len(m.outbox))
	for _, a := range m.outbox {
		a.Audio = append([]byte(nil), a.Audio...)
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, id)
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.outbox[id]
	if !ok {
		return nil
	}
	a.Attempts++
	if cause != nil {
		a.LastError = cause.Error()
	}
	m.outbox[id] = a
	return nil
}
