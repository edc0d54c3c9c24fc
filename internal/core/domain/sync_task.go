package domain

import "time"

// SyncTaskType identifies what an on-demand sync request covers
type SyncTaskType string

const (
	// SyncTaskCompany syncs a single company
	SyncTaskCompany SyncTaskType = "sync_company"
	// SyncTaskAll forces a sync of every enabled company
	SyncTaskAll SyncTaskType = "sync_all"
)

// SyncTaskStatus represents the current state of a queued sync request
type SyncTaskStatus string

const (
	SyncTaskPending    SyncTaskStatus = "pending"
	SyncTaskProcessing SyncTaskStatus = "processing"
	SyncTaskCompleted  SyncTaskStatus = "completed"
	SyncTaskFailed     SyncTaskStatus = "failed"
)

// DefaultSyncTaskAttempts is how often a request is tried before it fails for good
const DefaultSyncTaskAttempts = 3

// maxRetryBackoff caps the delay between attempts
const maxRetryBackoff = 5 * time.Minute

// SyncTask is a manually triggered sync waiting for a worker.
// The periodic scheduler does not use tasks; they exist so a user action
// ("sync now") can be handed to whichever worker is free.
type SyncTask struct {
	ID          string         `json:"id"`
	Type        SyncTaskType   `json:"type"`
	CompanyID   string         `json:"company_id,omitempty"` // empty for SyncTaskAll
	Status      SyncTaskStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Error       string         `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// NewSyncTask creates a pending task that is ready immediately.
func NewSyncTask(taskType SyncTaskType, companyID string, now time.Time) *SyncTask {
	return &SyncTask{
		ID:           NewID(),
		Type:         taskType,
		CompanyID:    companyID,
		Status:       SyncTaskPending,
		MaxAttempts:  DefaultSyncTaskAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// CanRetry returns true if the task has attempts left
func (t *SyncTask) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is pending and due
func (t *SyncTask) IsReady(now time.Time) bool {
	return t.Status == SyncTaskPending && !now.Before(t.ScheduledFor)
}

// IsFinished returns true once the task reached a terminal state
func (t *SyncTask) IsFinished() bool {
	return t.Status == SyncTaskCompleted || t.Status == SyncTaskFailed
}

// MarkProcessing records the start of an attempt
func (t *SyncTask) MarkProcessing(now time.Time) {
	t.Status = SyncTaskProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted records a successful attempt
func (t *SyncTask) MarkCompleted(now time.Time) {
	t.Status = SyncTaskCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed records a terminal failure
func (t *SyncTask) MarkFailed(reason string, now time.Time) {
	t.Status = SyncTaskFailed
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = reason
}

// Retry returns the task to pending with exponential backoff: 2s, 4s, 8s, ...
func (t *SyncTask) Retry(reason string, now time.Time) {
	t.Status = SyncTaskPending
	t.UpdatedAt = now
	t.Error = reason
	t.ScheduledFor = now.Add(RetryBackoff(t.Attempts))
}

// RetryBackoff returns the delay before the next attempt after attempts tries.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 16 {
		return maxRetryBackoff
	}
	backoff := time.Duration(1<<attempts) * time.Second
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	return backoff
}
