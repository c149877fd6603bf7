// Package scheduler implements the task scheduler (§4.11): one-shot and
// cron-triggered tasks held in an in-memory active map, persisted to
// Redis at registration and on every status change so a restart can
// rehydrate active tasks.
package scheduler

import (
	"fmt"
	"time"
)

// Status is a ScheduledTask's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// Task is a ScheduledTask (§3, §4.11): exactly one of DeferUntil or
// ScheduleCron is set — a one-shot task fires once and is removed, a
// cron task fires on every matching minute and stays ACTIVE.
type Task struct {
	TaskID          string
	Name            string
	GoalDescription string
	Status          Status
	DeferUntil      *time.Time
	ScheduleCron    *string
	TriggerPrompt   string
	OriginThoughtID string
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
	DeferralCount   int
	DeferralHistory []time.Time

	// TraceID/ParentSpanID capture the span active when the task was
	// scheduled, so fire (running later on the tick goroutine, with no
	// request context of its own) can link its span back to whatever
	// originated the schedule.
	TraceID      string
	ParentSpanID string
}

// Validate enforces the exactly-one-of invariant.
func (t Task) Validate() error {
	hasDefer := t.DeferUntil != nil
	hasCron := t.ScheduleCron != nil && *t.ScheduleCron != ""
	if hasDefer == hasCron {
		return fmt.Errorf("scheduler: task %s must set exactly one of defer_until or schedule_cron", t.TaskID)
	}
	return nil
}

// IsOneShot reports whether the task fires once (defer_until) rather
// than repeating on a cron schedule.
func (t Task) IsOneShot() bool {
	return t.DeferUntil != nil
}
