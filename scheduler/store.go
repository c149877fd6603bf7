package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meridian-run/meridian/core"
)

// Store persists ScheduledTasks so a process restart can rehydrate
// active tasks (§4.11: "Tasks persist to storage at registration and on
// status change").
type Store interface {
	Save(ctx context.Context, task Task) error
	Delete(ctx context.Context, taskID string) error
	LoadActive(ctx context.Context) ([]Task, error)
}

// activeIndexKey is the Redis set tracking every non-terminal task id,
// so LoadActive doesn't need a KEYS scan.
const activeIndexKey = "active_tasks"

// RedisStore persists tasks as JSON blobs under core.RedisDBScheduler,
// with an index set for cheap startup rehydration.
type RedisStore struct {
	client *core.RedisClient
}

// NewRedisStore wraps an already-configured scheduler-DB Redis client.
func NewRedisStore(client *core.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func taskKey(id string) string { return "task:" + id }

// Save upserts a task's JSON blob and keeps the active-task index
// consistent: terminal statuses are removed from the index, everything
// else is added.
func (s *RedisStore) Save(ctx context.Context, task Task) error {
	blob, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("scheduler: marshal task %s: %w", task.TaskID, err)
	}
	if err := s.client.Set(ctx, taskKey(task.TaskID), blob, 0); err != nil {
		return fmt.Errorf("scheduler: save task %s: %w", task.TaskID, err)
	}

	if task.Status == StatusComplete || task.Status == StatusFailed {
		if err := s.client.SRem(ctx, activeIndexKey, task.TaskID); err != nil {
			return fmt.Errorf("scheduler: unindex task %s: %w", task.TaskID, err)
		}
		return nil
	}
	if err := s.client.SAdd(ctx, activeIndexKey, task.TaskID); err != nil {
		return fmt.Errorf("scheduler: index task %s: %w", task.TaskID, err)
	}
	return nil
}

// Delete removes a task's blob and index entry outright (used when a
// one-shot task fires and is discarded rather than marked complete).
func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, taskKey(taskID)); err != nil {
		return fmt.Errorf("scheduler: delete task %s: %w", taskID, err)
	}
	if err := s.client.SRem(ctx, activeIndexKey, taskID); err != nil {
		return fmt.Errorf("scheduler: unindex deleted task %s: %w", taskID, err)
	}
	return nil
}

// LoadActive rehydrates every indexed task on startup.
func (s *RedisStore) LoadActive(ctx context.Context) ([]Task, error) {
	ids, err := s.client.SMembers(ctx, activeIndexKey)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list active tasks: %w", err)
	}

	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		blob, err := s.client.Get(ctx, taskKey(id))
		if err != nil {
			continue // evicted or raced with a Delete; skip rather than fail the whole rehydration
		}
		var t Task
		if err := json.Unmarshal([]byte(blob), &t); err != nil {
			return nil, fmt.Errorf("scheduler: unmarshal task %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// MemStore is an in-process Store used in tests.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]Task)}
}

func (s *MemStore) Save(ctx context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task
	return nil
}

func (s *MemStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *MemStore) LoadActive(ctx context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Status != StatusComplete && t.Status != StatusFailed {
			out = append(out, t)
		}
	}
	return out, nil
}
