package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/telemetry"
)

// defaultTickInterval matches §6's tick_interval_s default of 1s.
const defaultTickInterval = 1 * time.Second

// ThoughtEmitter is how the scheduler hands a fired task off to the
// reasoning layer. Building and routing a thought is outside this
// package's scope (the scheduler owns task timing, not reasoning), so
// it's injected rather than constructed here.
type ThoughtEmitter interface {
	EmitThought(ctx context.Context, triggerPrompt, scheduledTaskID, originThoughtID string) error
}

// Config configures a Scheduler's tick cadence.
type Config struct {
	TickInterval time.Duration
}

// Scheduler holds the in-memory active-task map and a background ticker
// that fires one-shot and cron tasks (§4.11).
type Scheduler struct {
	store   Store
	emitter ThoughtEmitter
	logger  core.Logger
	tick    time.Duration

	mu    sync.Mutex
	tasks map[string]Task

	stopCh chan struct{}
}

// New creates a scheduler. Call Restore before Start to rehydrate any
// tasks a prior process left active.
func New(store Store, emitter ThoughtEmitter, logger core.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Scheduler{
		store:   store,
		emitter: emitter,
		logger:  logger,
		tick:    cfg.TickInterval,
		tasks:   make(map[string]Task),
		stopCh:  make(chan struct{}),
	}
}

// Restore rehydrates every active task from the store, as §4.11
// requires on startup.
func (s *Scheduler) Restore(ctx context.Context) error {
	tasks, err := s.store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: restore: %w", err)
	}
	s.mu.Lock()
	for _, t := range tasks {
		s.tasks[t.TaskID] = t
	}
	s.mu.Unlock()

	s.logger.Info("scheduler rehydrated active tasks", map[string]interface{}{
		"operation":  "scheduler_restore",
		"task_count": len(tasks),
	})
	return nil
}

// ScheduleTask registers a new task with exactly one of deferUntil or
// scheduleCron set (§4.11).
func (s *Scheduler) ScheduleTask(ctx context.Context, name, goal, triggerPrompt, originThoughtID string, deferUntil *time.Time, scheduleCron *string) (Task, error) {
	task := Task{
		TaskID:          uuid.NewString(),
		Name:            name,
		GoalDescription: goal,
		Status:          StatusActive,
		DeferUntil:      deferUntil,
		ScheduleCron:    scheduleCron,
		TriggerPrompt:   triggerPrompt,
		OriginThoughtID: originThoughtID,
		CreatedAt:       time.Now(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		task.TraceID = sc.TraceID().String()
		task.ParentSpanID = sc.SpanID().String()
	}
	if err := task.Validate(); err != nil {
		return Task{}, err
	}
	if scheduleCron != nil {
		if _, err := ParseCron(*scheduleCron); err != nil {
			return Task{}, err
		}
	}

	if err := s.store.Save(ctx, task); err != nil {
		return Task{}, fmt.Errorf("scheduler: persist new task: %w", err)
	}

	s.mu.Lock()
	s.tasks[task.TaskID] = task
	s.mu.Unlock()

	return task, nil
}

// ActiveTasks returns a snapshot of every currently active task.
func (s *Scheduler) ActiveTasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// Start runs the tick loop until the context is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.runTick(ctx, now)
		}
	}
}

// Stop signals the tick loop to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// runTick evaluates every active task against now: fires one-shot tasks
// whose defer_until has elapsed (removing them), and fires cron tasks
// whose schedule matches the current minute (keeping them active).
func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]Task, 0)
	for _, t := range s.tasks {
		if t.IsOneShot() {
			if !t.DeferUntil.After(now) {
				due = append(due, t)
			}
			continue
		}
		spec, err := ParseCron(*t.ScheduleCron)
		if err != nil {
			continue
		}
		if spec.Matches(now) && !alreadyTriggeredThisMinute(t, now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.fire(ctx, t, now)
	}
}

func alreadyTriggeredThisMinute(t Task, now time.Time) bool {
	if t.LastTriggeredAt == nil {
		return false
	}
	last := *t.LastTriggeredAt
	return last.Truncate(time.Minute).Equal(now.Truncate(time.Minute))
}

func (s *Scheduler) fire(ctx context.Context, t Task, now time.Time) {
	ctx, endSpan := telemetry.StartLinkedSpan(ctx, "scheduler.fire", t.TraceID, t.ParentSpanID, map[string]string{
		"task.id":   t.TaskID,
		"task.name": t.Name,
	})
	defer endSpan()

	if err := s.emitter.EmitThought(ctx, t.TriggerPrompt, t.TaskID, t.OriginThoughtID); err != nil {
		s.logger.Warn("scheduler failed to emit thought", map[string]interface{}{
			"operation": "scheduler_fire",
			"task_id":   t.TaskID,
			"error":     err.Error(),
		})
		return
	}

	if t.IsOneShot() {
		s.mu.Lock()
		delete(s.tasks, t.TaskID)
		s.mu.Unlock()
		if err := s.store.Delete(ctx, t.TaskID); err != nil {
			s.logger.Warn("scheduler failed to remove fired one-shot task", map[string]interface{}{
				"operation": "scheduler_fire",
				"task_id":   t.TaskID,
				"error":     err.Error(),
			})
		}
		return
	}

	t.LastTriggeredAt = &now
	s.mu.Lock()
	s.tasks[t.TaskID] = t
	s.mu.Unlock()
	if err := s.store.Save(ctx, t); err != nil {
		s.logger.Warn("scheduler failed to persist cron task trigger", map[string]interface{}{
			"operation": "scheduler_fire",
			"task_id":   t.TaskID,
			"error":     err.Error(),
		})
	}
}
