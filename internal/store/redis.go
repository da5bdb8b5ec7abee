package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hookflow/internal/domain"
)

// Redis keeps each task as a JSON string under <prefix>task:<id>, the id set
// under <prefix>tasks and active tasks in the sorted set <prefix>due scored
// by schedule_at in unix milliseconds. The score only narrows Due; the exact
// schedule_at comparison is made on the decoded task.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "hookflow:"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (s *Redis) taskKey(id string) string { return s.prefix + "task:" + id }
func (s *Redis) idsKey() string           { return s.prefix + "tasks" }
func (s *Redis) dueKey() string           { return s.prefix + "due" }

func (s *Redis) Close() error { return s.client.Close() }

func (s *Redis) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	t = prepareNew(t, time.Now().UTC())
	if err := s.write(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Save overwrites an existing task. The existence check and the write run
// under WATCH on the task key, so a Delete landing in between aborts the
// write instead of recreating the task.
func (s *Redis) Save(ctx context.Context, t domain.Task) error {
	t.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	key := s.taskKey(t.ID)
	for range saveAttempts {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.queueWrite(ctx, pipe, t, data)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("save task %s: %w", t.ID, err)
}

const saveAttempts = 3

func (s *Redis) write(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, t, data)
		return nil
	})
	return err
}

func (s *Redis) queueWrite(ctx context.Context, pipe redis.Pipeliner, t domain.Task, data []byte) {
	pipe.Set(ctx, s.taskKey(t.ID), data, 0)
	pipe.SAdd(ctx, s.idsKey(), t.ID)
	if t.Active {
		pipe.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(t.ScheduleAt.UnixMilli()), Member: t.ID})
	} else {
		pipe.ZRem(ctx, s.dueKey(), t.ID)
	}
}

func (s *Redis) Get(ctx context.Context, id string) (domain.Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

func (s *Redis) List(ctx context.Context) ([]domain.Task, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.taskKey(id))
		pipe.SRem(ctx, s.idsKey(), id)
		pipe.ZRem(ctx, s.dueKey(), id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Redis) Due(ctx context.Context, now time.Time) ([]domain.Task, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.Active && !t.ScheduleAt.After(now) {
			out = append(out, t)
		}
	}
	sortBySchedule(out)
	return out, nil
}

// load fetches tasks by id, keeping the order of ids and skipping missing keys.
func (s *Redis) load(ctx context.Context, ids []string) ([]domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", ids[i], err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
