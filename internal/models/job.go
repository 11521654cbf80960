package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// JobID identifies a job. IDs are assigned by the queue in increasing order.
type JobID int64

// String returns the decimal form of the id.
func (id JobID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseJobID parses the decimal form of a job id.
func ParseJobID(s string) (JobID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return JobID(n), nil
}

// JobType tags a job so the worker pool can pick its handler.
type JobType string

const (
	JobTypeOTP           JobType = "otp"
	JobTypePasswordReset JobType = "password_reset"
	JobTypeEmailAlert    JobType = "email_alert"
	JobTypeNotification  JobType = "notification"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further processing can happen in this state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Payload is the free-form job argument map, e.g. destination address and code.
type Payload map[string]any

// String returns the value under key when it is a string, "" otherwise.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Job is one unit of retryable background work.
type Job struct {
	ID         JobID      `json:"id"`
	Type       JobType    `json:"type"`
	Payload    Payload    `json:"payload"`
	Attempts   int        `json:"attempts"`
	Status     JobStatus  `json:"status"`
	LastError  string     `json:"lastError,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ClaimedAt  *time.Time `json:"claimedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a queue.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = make(Payload, len(j.Payload))
		for k, v := range j.Payload {
			c.Payload[k] = v
		}
	}
	c.Errors = append([]string(nil), j.Errors...)
	if j.ClaimedAt != nil {
		t := *j.ClaimedAt
		c.ClaimedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// JobRecord is the archived form of a job that reached a terminal state.
type JobRecord struct {
	ID         int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Type       string         `gorm:"type:text;not null;index" json:"type"`
	Status     string         `gorm:"type:text;not null;index" json:"status"`
	Payload    string         `gorm:"type:text" json:"payload"`
	Attempts   int            `json:"attempts"`
	Errors     pq.StringArray `gorm:"type:text[]" json:"errors"`
	CreatedAt  time.Time      `json:"createdAt"`
	FinishedAt time.Time      `gorm:"index" json:"finishedAt"`
}

// NewJobRecord converts a terminal job into its archived form.
func NewJobRecord(j *Job) (*JobRecord, error) {
	if !j.Status.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s, not terminal", j.ID, j.Status)
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	finished := j.UpdatedAt
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	return &JobRecord{
		ID:         int64(j.ID),
		Type:       string(j.Type),
		Status:     string(j.Status),
		Payload:    string(payload),
		Attempts:   j.Attempts,
		Errors:     pq.StringArray(append([]string(nil), j.Errors...)),
		CreatedAt:  j.CreatedAt,
		FinishedAt: finished,
	}, nil
}
