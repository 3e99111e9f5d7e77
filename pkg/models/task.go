package models

import "time"

// ScheduleKind discriminates the three supported schedule shapes.
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDaily    ScheduleKind = "daily"
)

// Schedule pairs a kind with its kind-specific settings. Exactly one
// group of fields is meaningful per kind:
//
//   - interval: one of Seconds/Minutes/Hours/Days is > 0
//   - daily: Hour (0-23) and Minute (0-59)
//   - once: InMinutes or InHours > 0, or At set
//
// The struct round-trips through JSON for the schedule_data column.
type Schedule struct {
	Kind ScheduleKind `json:"type"`

	Seconds int `json:"seconds,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`

	Hour   int `json:"hour"`
	Minute int `json:"minute"`

	InMinutes int        `json:"in_minutes,omitempty"`
	InHours   int        `json:"in_hours,omitempty"`
	At        *time.Time `json:"datetime,omitempty"`
}

// ScheduledTask is a prompt the scheduler fires through the agent on a
// recurring or one-shot schedule, on behalf of one user and platform.
type ScheduledTask struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Platform  Platform   `json:"platform"`
	Name      string     `json:"name"`
	Prompt    string     `json:"prompt"`
	Schedule  Schedule   `json:"schedule"`
	CreatedAt time.Time  `json:"created_at"`
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	RunCount  int        `json:"run_count"`
	Enabled   bool       `json:"enabled"`
}

// Execution is one appended entry in a task's run history. Result is
// truncated before storage; Success records whether the run errored.
type Execution struct {
	ID       string    `json:"id"`
	TaskID   string    `json:"task_id"`
	TaskName string    `json:"task_name"`
	UserID   string    `json:"user_id"`
	Platform Platform  `json:"platform"`
	Result   string    `json:"result"`
	Success  bool      `json:"success"`
	RanAt    time.Time `json:"ran_at"`
}

// Notification is a completion message queued for a platform that had no
// registered sender at fire time. Delivered flips exactly once, when a
// later drain succeeds.
type Notification struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id,omitempty"`
	UserID      string     `json:"user_id"`
	Platform    Platform   `json:"platform"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
