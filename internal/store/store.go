package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookflow/internal/domain"
)

var ErrNotFound = errors.New("task not found")

// Store persists task records. Save overwrites the full record keyed by ID
// and fails with ErrNotFound when the task no longer exists. Due returns
// active tasks whose schedule_at is at or before now, earliest first; it does
// not claim them.
type Store interface {
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	Save(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error
	Due(ctx context.Context, now time.Time) ([]domain.Task, error)
	Close() error
}

type Config struct {
	Driver      string // sqlite, redis or memory
	Path        string
	RedisURL    string
	RedisPrefix string
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// prepareNew fills identity and bookkeeping fields of a task being created.
func prepareNew(t domain.Task, now time.Time) domain.Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.RecurrenceType == "" {
		t.RecurrenceType = domain.RecurNone
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return t
}
