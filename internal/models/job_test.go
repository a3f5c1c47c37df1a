package models

import (
	"testing"
	"time"
)

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"pending to cancelled", JobStatusPending, JobStatusCancelled, true},
		{"pending to completed", JobStatusPending, JobStatusCompleted, false},
		{"running to completed", JobStatusRunning, JobStatusCompleted, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"running to cancelled", JobStatusRunning, JobStatusCancelled, true},
		{"running to pending", JobStatusRunning, JobStatusPending, false},
		{"completed is terminal", JobStatusCompleted, JobStatusRunning, false},
		{"failed is terminal", JobStatusFailed, JobStatusPending, false},
		{"cancelled is terminal", JobStatusCancelled, JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob(JobKindDiscovery, PriorityNormal, JobConfig{})
			job.Status = tt.from

			err := job.Transition(tt.to)
			if tt.allowed && err != nil {
				t.Errorf("Transition(%s -> %s) unexpected error: %v", tt.from, tt.to, err)
			}
			if !tt.allowed && err == nil {
				t.Errorf("Transition(%s -> %s) expected error, got none", tt.from, tt.to)
			}
		})
	}
}

func TestJobRetryBudget(t *testing.T) {
	job := NewJob(JobKindExtraction, PriorityNormal, JobConfig{})
	job.MaxRetries = 2
	notBefore := time.Now().Add(time.Minute)

	for i := 1; i <= 2; i++ {
		job.Status = JobStatusRunning
		if err := job.Retry("HTTP 429", notBefore); err != nil {
			t.Fatalf("retry %d unexpected error: %v", i, err)
		}
		if job.Status != JobStatusPending {
			t.Fatalf("retry %d status = %s, want pending", i, job.Status)
		}
		if job.RetryCount != i {
			t.Fatalf("retry %d count = %d, want %d", i, job.RetryCount, i)
		}
		if !job.ScheduledFor.Equal(notBefore) {
			t.Fatalf("retry %d did not defer scheduled_for", i)
		}
	}

	// Budget exhausted: third retry must be refused
	job.Status = JobStatusRunning
	if err := job.Retry("HTTP 429", notBefore); err == nil {
		t.Fatal("expected retry budget error, got none")
	}
	if job.RetryCount != job.MaxRetries {
		t.Errorf("retry count %d exceeds max retries %d", job.RetryCount, job.MaxRetries)
	}
}

func TestJobRetryRequiresRunning(t *testing.T) {
	job := NewJob(JobKindExtraction, PriorityNormal, JobConfig{})
	job.MaxRetries = 3
	if err := job.Retry("err", time.Now()); err == nil {
		t.Error("expected error retrying a pending job")
	}
}

func TestPriorityRank(t *testing.T) {
	if !(PriorityUrgent.Rank() < PriorityHigh.Rank() &&
		PriorityHigh.Rank() < PriorityNormal.Rank() &&
		PriorityNormal.Rank() < PriorityLow.Rank()) {
		t.Error("priority ranks are not strictly ordered urgent < high < normal < low")
	}
}

func TestJobConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		kind    JobKind
		config  JobConfig
		wantErr bool
	}{
		{
			name: "valid discovery",
			kind: JobKindDiscovery,
			config: JobConfig{Discovery: &DiscoveryJobConfig{
				Criteria:   SearchCriteria{Name: "Jane Doe", Company: "Acme Corp"},
				MaxResults: 20,
			}},
			wantErr: false,
		},
		{
			name:    "discovery missing config",
			kind:    JobKindDiscovery,
			config:  JobConfig{},
			wantErr: true,
		},
		{
			name: "discovery empty criteria",
			kind: JobKindDiscovery,
			config: JobConfig{Discovery: &DiscoveryJobConfig{
				MaxResults: 20,
			}},
			wantErr: true,
		},
		{
			name: "discovery max results out of range",
			kind: JobKindDiscovery,
			config: JobConfig{Discovery: &DiscoveryJobConfig{
				Criteria:   SearchCriteria{Name: "Jane Doe"},
				MaxResults: 1000,
			}},
			wantErr: true,
		},
		{
			name: "valid extraction",
			kind: JobKindExtraction,
			config: JobConfig{Extraction: &ExtractionJobConfig{
				URLs: []string{"https://profiles.example.com/in/jane-doe"},
			}},
			wantErr: false,
		},
		{
			name:    "extraction empty urls",
			kind:    JobKindExtraction,
			config:  JobConfig{Extraction: &ExtractionJobConfig{}},
			wantErr: true,
		},
		{
			name: "extraction malformed url",
			kind: JobKindExtraction,
			config: JobConfig{Extraction: &ExtractionJobConfig{
				URLs: []string{"not-a-url"},
			}},
			wantErr: true,
		},
		{
			name: "wrong payload for kind",
			kind: JobKindExtraction,
			config: JobConfig{Discovery: &DiscoveryJobConfig{
				Criteria:   SearchCriteria{Name: "Jane Doe"},
				MaxResults: 5,
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(tt.kind)
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNewSubJobInheritsPolicy(t *testing.T) {
	parent := NewJob(JobKindExtraction, PriorityHigh, JobConfig{})
	parent.MaxRetries = 5
	parent.Timeout = 4 * time.Minute
	parent.CreatedBy = "operator-1"

	sub := NewSubJob(parent, JobConfig{Extraction: &ExtractionJobConfig{URLs: []string{"https://x.example.com/in/a"}}})

	if sub.ParentID != parent.ID {
		t.Errorf("sub.ParentID = %s, want %s", sub.ParentID, parent.ID)
	}
	if sub.Kind != parent.Kind || sub.Priority != parent.Priority {
		t.Error("sub job did not inherit kind/priority")
	}
	if sub.MaxRetries != 5 || sub.Timeout != 4*time.Minute || sub.CreatedBy != "operator-1" {
		t.Error("sub job did not inherit retry/timeout/creator policy")
	}
	if sub.ID == parent.ID {
		t.Error("sub job must have its own ID")
	}
}
