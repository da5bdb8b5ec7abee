package domain

import (
	"strings"
	"time"
)

// Recurrence names the unit used to compute a task's next occurrence.
// Values outside the known set are kept as-is and treated as unrecognized.
type Recurrence string

const (
	RecurNone   Recurrence = "None"
	RecurMinute Recurrence = "Minute"
	RecurHour   Recurrence = "Hour"
	RecurDay    Recurrence = "Day"
	RecurMonth  Recurrence = "Month"
	RecurYear   Recurrence = "Year"
)

// Status labels written by the engine after a run.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Task is a scheduled webhook call plus the outcome of its latest run.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Payload       *string           `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Timeout       int               `json:"timeout"`        // seconds per attempt
	MaxRetries    int               `json:"max_retries"`    // attempts after the first
	RetryInterval int               `json:"retry_interval"` // seconds between attempts

	RecurrenceType     Recurrence `json:"recurrence_type"`
	RecurrenceInterval int        `json:"recurrence_interval"`

	ScheduleAt      time.Time  `json:"schedule_at"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	Active          bool       `json:"active"`

	LastResponse     *string    `json:"last_response,omitempty"`
	LastResponseCode *int       `json:"last_response_code,omitempty"`
	LastExecutionAt  *time.Time `json:"last_execution_at,omitempty"`
	RetryCount       int        `json:"retry_count"`
	Status           string     `json:"status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether the store-level selection predicate holds at now.
func (t Task) Due(now time.Time) bool {
	return t.Active && !t.ScheduleAt.After(now)
}

// CarriesBody reports whether the payload is sent with the request.
// Only POST and PUT carry one.
func (t Task) CarriesBody() bool {
	m := strings.ToUpper(strings.TrimSpace(t.Method))
	return m == "POST" || m == "PUT"
}
