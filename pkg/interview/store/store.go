// Package store persists interview progress so a session survives a reload.
//
// A Backend is a last-write-wins key/value store plus a durable outbox of
// answers awaiting evaluation. The session controller is its only writer.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Logical keys of the persisted session state. All are cleared together on finalize.
const (
	KeyStarted               = "interview.started"
	KeyTimerSecondsRemaining = "interview.timerSecondsRemaining"
	KeyQuestionIndex         = "interview.questionIndex"
	KeyAttemptedCount        = "interview.attemptedCount"
	KeyTotalQuestions        = "interview.totalQuestions"
)

// Store is a write-through key/value store. Get reports absent keys with ok=false.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
	Close() error
}

// Outbox durably queues answers until the evaluation endpoint accepts them.
type Outbox interface {
	Enqueue(ctx context.Context, answer types.Answer) error
	// Pending returns queued answers oldest first.
	Pending(ctx context.Context) ([]types.Answer, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// Backend is a Store with an Outbox persisted alongside it.
type Backend interface {
	Store
	Outbox
}

// Open opens a backend from a DSN:
//
//	memory://                 in-process map, lost on exit
//	sqlite://path/to/file.db  local file (modernc.org/sqlite)
//	postgres://...            shared database (pgx)
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory://":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn, logger)
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return OpenSQLite(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported store dsn %q", redactDSN(dsn))
	}
}

func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
