package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hookflow/internal/domain"
)

// Memory is an in-process Store. Records are copied on the way in and out.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]domain.Task)}
}

func (m *Memory) Create(_ context.Context, t domain.Task) (domain.Task, error) {
	t = prepareNew(clone(t), time.Now().UTC())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return clone(t), nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return clone(t), nil
}

func (m *Memory) List(_ context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, clone(t))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Save(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	t = clone(t)
	t.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Due(_ context.Context, now time.Time) ([]domain.Task, error) {
	m.mu.RLock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.Due(now) {
			out = append(out, clone(t))
		}
	}
	m.mu.RUnlock()
	sortBySchedule(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortBySchedule(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].ScheduleAt.Equal(tasks[j].ScheduleAt) {
			return tasks[i].ScheduleAt.Before(tasks[j].ScheduleAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func clone(t domain.Task) domain.Task {
	if t.Headers != nil {
		h := make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			h[k] = v
		}
		t.Headers = h
	}
	return t
}
