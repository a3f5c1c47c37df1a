package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// JobKind represents the type of scheduled work
type JobKind string

const (
	JobKindDiscovery  JobKind = "discovery"
	JobKindExtraction JobKind = "extraction"
)

// IsValidJobKind checks if a given JobKind is one of the valid constants
func IsValidJobKind(kind JobKind) bool {
	switch kind {
	case JobKindDiscovery, JobKindExtraction:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a status is permanent
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPriority orders claims within the queue
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

// Rank maps priority to a sortable rank; lower claims first
func (p JobPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// SearchCriteria are the operator-supplied inputs to a discovery run
type SearchCriteria struct {
	Name     string   `json:"name" validate:"omitempty,min=2,max=200"`
	Company  string   `json:"company" validate:"omitempty,max=200"`
	Location string   `json:"location" validate:"omitempty,max=200"`
	Role     string   `json:"role" validate:"omitempty,max=200"`
	Keywords []string `json:"keywords" validate:"omitempty,max=10,dive,min=1,max=100"`
}

// IsEmpty reports whether no criteria fields are set
func (c SearchCriteria) IsEmpty() bool {
	return c.Name == "" && c.Company == "" && c.Location == "" && c.Role == "" && len(c.Keywords) == 0
}

// DiscoveryJobConfig is the config schema for kind=discovery jobs
type DiscoveryJobConfig struct {
	Criteria    SearchCriteria `json:"criteria"`
	MaxResults  int            `json:"max_results" validate:"required,min=1,max=100"`
	AutoExtract bool           `json:"auto_extract"` // Queue extraction jobs for accepted candidates
}

// ExtractionJobConfig is the config schema for kind=extraction jobs
type ExtractionJobConfig struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,url"`
}

// JobConfig is the tagged union of per-kind config payloads. Exactly the
// member matching the job's Kind is set; schemas are validated at submission
// time, not at consumption time.
type JobConfig struct {
	Discovery  *DiscoveryJobConfig  `json:"discovery,omitempty"`
	Extraction *ExtractionJobConfig `json:"extraction,omitempty"`
}

var configValidate = validator.New()

// Validate checks the config payload against the job kind's schema
func (c JobConfig) Validate(kind JobKind) error {
	switch kind {
	case JobKindDiscovery:
		if c.Discovery == nil {
			return fmt.Errorf("discovery job requires a discovery config")
		}
		if c.Extraction != nil {
			return fmt.Errorf("discovery job must not carry an extraction config")
		}
		if c.Discovery.Criteria.IsEmpty() {
			return fmt.Errorf("discovery criteria must set at least one field")
		}
		if err := configValidate.Struct(c.Discovery); err != nil {
			return fmt.Errorf("invalid discovery config: %w", err)
		}
	case JobKindExtraction:
		if c.Extraction == nil {
			return fmt.Errorf("extraction job requires an extraction config")
		}
		if c.Discovery != nil {
			return fmt.Errorf("extraction job must not carry a discovery config")
		}
		if err := configValidate.Struct(c.Extraction); err != nil {
			return fmt.Errorf("invalid extraction config: %w", err)
		}
	default:
		return fmt.Errorf("unknown job kind: %s", kind)
	}
	return nil
}

// JobLogEntry is a single diagnostic line retained with the job
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Job is the unit of scheduled work owned by the queue
type Job struct {
	ID       string  `json:"id" badgerhold:"key"`
	ParentID string  `json:"parent_id,omitempty" badgerholdIndex:"ParentID"`
	Kind     JobKind `json:"kind"`

	Status   JobStatus   `json:"status" badgerholdIndex:"Status"`
	Priority JobPriority `json:"priority"`

	Config JobConfig `json:"config"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`

	TotalItems     int `json:"total_items"`
	CompletedItems int `json:"completed_items"`
	FailedItems    int `json:"failed_items"`

	ResultSummary map[string]interface{} `json:"result_summary,omitempty"`
	Error         string                 `json:"error,omitempty"`

	CreatedBy       string        `json:"created_by,omitempty"`
	CancelRequested bool          `json:"cancel_requested"`
	LastHeartbeat   *time.Time    `json:"last_heartbeat,omitempty"`
	Logs            []JobLogEntry `json:"logs,omitempty"`
}

// NewJob creates a pending job of the given kind
func NewJob(kind JobKind, priority JobPriority, config JobConfig) *Job {
	now := time.Now()
	return &Job{
		ID:           "job_" + uuid.New().String(),
		Kind:         kind,
		Status:       JobStatusPending,
		Priority:     priority,
		Config:       config,
		ScheduledFor: now,
		CreatedAt:    now,
	}
}

// NewSubJob creates a pending child job sharing the parent's kind and policy
func NewSubJob(parent *Job, config JobConfig) *Job {
	sub := NewJob(parent.Kind, parent.Priority, config)
	sub.ParentID = parent.ID
	sub.MaxRetries = parent.MaxRetries
	sub.Timeout = parent.Timeout
	sub.CreatedBy = parent.CreatedBy
	sub.ScheduledFor = parent.ScheduledFor
	return sub
}

// validTransitions encodes the job state machine. Terminal states have no
// outgoing edges; pending is re-entered only through Retry.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether moving to the target status is legal
func (j *Job) CanTransition(to JobStatus) bool {
	for _, allowed := range validTransitions[j.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the target status, enforcing the state machine
func (j *Job) Transition(to JobStatus) error {
	if !j.CanTransition(to) {
		return fmt.Errorf("illegal job transition %s -> %s for job %s", j.Status, to, j.ID)
	}

	now := time.Now()
	switch to {
	case JobStatusRunning:
		j.StartedAt = &now
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		j.CompletedAt = &now
	}
	j.Status = to
	return nil
}

// CanRetry reports whether the retry budget allows another attempt
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Retry re-enters pending from running after a transient failure, incrementing
// the retry count and deferring the next attempt until notBefore.
func (j *Job) Retry(lastErr string, notBefore time.Time) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("cannot retry job %s in status %s", j.ID, j.Status)
	}
	if !j.CanRetry() {
		return fmt.Errorf("retry budget exhausted for job %s (%d/%d)", j.ID, j.RetryCount, j.MaxRetries)
	}

	j.RetryCount++
	j.Status = JobStatusPending
	j.Error = lastErr
	j.ScheduledFor = notBefore
	j.StartedAt = nil
	j.LastHeartbeat = nil
	return nil
}

// AppendLog records a diagnostic entry on the job
func (j *Job) AppendLog(level, message string) {
	j.Logs = append(j.Logs, JobLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}

// IsTerminal reports whether the job has reached a permanent state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// ToJSON serializes the job
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserializes a job
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
