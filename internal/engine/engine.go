package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cycleline/internal/apperr"
	"cycleline/internal/config"
	"cycleline/internal/events"
	"cycleline/internal/lifecycle"
	"cycleline/internal/metrics"
	"cycleline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Metrics *metrics.Metrics
	// Rollup derives parent statuses; nil uses lifecycle.DefaultRollup.
	Rollup lifecycle.RollupFunc
	Logger *slog.Logger
	Now    func() time.Time

	locks *cycleLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Config: cfg,
		Logger: slog.Default().With(slog.String("component", "engine")),
		Now:    time.Now,
		locks:  newCycleLocks(),
	}
}

// WithNow returns a copy of e whose clock and event timestamps use now.
func (e Engine) WithNow(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// today is the current calendar date in UTC.
func (e Engine) today() time.Time {
	y, m, d := e.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e Engine) allowIndependentRecurrence() bool {
	return e.Config != nil && e.Config.Policies.AllowIndependentRecurrenceChange
}

// notFound converts repo.ErrNotFound into an apperr carrying the field.
func notFound(err error, field, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound(field, "%s %s not found", entity, id)
	}
	return err
}

func reasonOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.ErrInvalidArgument:
		return "invalid_argument"
	case apperr.ErrConstraintViolation:
		return "constraint_violation"
	case apperr.ErrNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// cycleLocks serializes status writes per cycle so sibling rollups never
// race. Entries are dropped once no goroutine holds or waits on them.
type cycleLocks struct {
	mu sync.Mutex
	m  map[string]*cycleLock
}

type cycleLock struct {
	mu   sync.Mutex
	refs int
}

func newCycleLocks() *cycleLocks {
	return &cycleLocks{m: make(map[string]*cycleLock)}
}

func (l *cycleLocks) lock(cycleID string) func() {
	l.mu.Lock()
	cl, ok := l.m[cycleID]
	if !ok {
		cl = &cycleLock{}
		l.m[cycleID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, cycleID)
		}
		l.mu.Unlock()
	}
}

// lockCycle takes the per-cycle lock. Engines built without New fall back
// to the database write lock alone.
func (e Engine) lockCycle(cycleID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(cycleID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// withTx runs fn inside one transaction and commits when it returns nil.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
