package models

import (
	"fmt"
	"sync"
	"time"
)

// Import job statuses
const (
	ImportJobQueued     = "queued"
	ImportJobProcessing = "processing"
	ImportJobCompleted  = "completed"
	ImportJobFailed     = "failed"
	ImportJobCancelled  = "cancelled"
)

const (
	importJobMessageCap = 200
	importJobErrorCap   = 100
)

// ImportedUser is one credential produced by a bulk import. Password is the
// generated plaintext; it exists only inside the job result and is never
// written to the database.
type ImportedUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
}

// ImportResult summarizes a terminal import run.
type ImportResult struct {
	CreatedCount        int            `json:"created_count"`
	ErrorCount          int            `json:"error_count"`
	ClassesCreatedCount int            `json:"classes_created_count"`
	CreatedUsers        []ImportedUser `json:"created_users"`
}

func (r *ImportResult) clone() *ImportResult {
	if r == nil {
		return nil
	}
	out := *r
	out.CreatedUsers = append([]ImportedUser(nil), r.CreatedUsers...)
	return &out
}

// ImportJobSnapshot is the read-only view returned to polling clients.
type ImportJobSnapshot struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Total      int           `json:"total"`
	Current    int           `json:"current"`
	Messages   []string      `json:"messages"`
	Errors     []string      `json:"errors"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Result     *ImportResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ImportJob tracks one bulk user import run. Jobs live only in the process
// registry; the batch processor is the single writer, everyone else reads
// snapshots through the mutex.
type ImportJob struct {
	mu sync.Mutex

	id          string
	sourcePath  string
	notifyEmail string

	status     string
	total      int
	current    int
	messages   *LogBuffer
	errors     *LogBuffer
	startedAt  time.Time
	finishedAt *time.Time
	result     *ImportResult
	errMessage string

	cancelRequested bool
}

func NewImportJob(id, sourcePath string) *ImportJob {
	return &ImportJob{
		id:         id,
		sourcePath: sourcePath,
		status:     ImportJobQueued,
		messages:   NewLogBuffer(importJobMessageCap),
		errors:     NewLogBuffer(importJobErrorCap),
		startedAt:  time.Now(),
	}
}

func (j *ImportJob) ID() string {
	return j.id
}

func (j *ImportJob) SourcePath() string {
	return j.sourcePath
}

// SetNotifyEmail records where the completion notification should go.
// Called once by the upload handler before processing starts.
func (j *ImportJob) SetNotifyEmail(email string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notifyEmail = email
}

func (j *ImportJob) NotifyEmail() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.notifyEmail
}

func (j *ImportJob) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// MarkProcessing moves a queued job into the processing state.
func (j *ImportJob) MarkProcessing() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == ImportJobQueued {
		j.status = ImportJobProcessing
	}
}

// SetTotal records the parsed row count. Set once after the source file has
// been read.
func (j *ImportJob) SetTotal(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.total = total
}

// Advance moves the processed-row counter forward. The counter never
// decreases and never exceeds the total.
func (j *ImportJob) Advance(processed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if processed < j.current {
		return
	}
	if j.total > 0 && processed > j.total {
		processed = j.total
	}
	j.current = processed
}

// Logf appends a progress message to the bounded message log.
func (j *ImportJob) Logf(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages.Append(fmt.Sprintf(format, args...))
}

// LogErrorf appends a row-level error to the bounded error log.
func (j *ImportJob) LogErrorf(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors.Append(fmt.Sprintf(format, args...))
}

// RequestCancel flips the cancellation flag. It reports whether the job was
// still eligible (queued or processing). The batch processor observes the
// flag at batch boundaries; a batch already in flight finishes first.
func (j *ImportJob) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != ImportJobQueued && j.status != ImportJobProcessing {
		return false
	}
	j.cancelRequested = true
	return true
}

func (j *ImportJob) CancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

// Complete marks the job completed with its final result.
func (j *ImportJob) Complete(result *ImportResult) {
	j.finish(ImportJobCompleted, result, "")
}

// Cancel marks the job cancelled, keeping the partial result accumulated up
// to the observed batch boundary.
func (j *ImportJob) Cancel(result *ImportResult) {
	j.finish(ImportJobCancelled, result, "")
}

// Fail marks the job failed with a fatal error message.
func (j *ImportJob) Fail(result *ImportResult, message string) {
	j.finish(ImportJobFailed, result, message)
}

func (j *ImportJob) finish(status string, result *ImportResult, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finishedAt != nil {
		return
	}
	now := time.Now()
	j.status = status
	j.result = result
	j.errMessage = message
	j.finishedAt = &now
}

// Result returns the job result and status. The result is a copy; it is nil
// until the job reaches a terminal state.
func (j *ImportJob) Result() (*ImportResult, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result.clone(), j.status
}

// Snapshot returns a consistent copy of the observable job state.
func (j *ImportJob) Snapshot() ImportJobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	var finishedAt *time.Time
	if j.finishedAt != nil {
		t := *j.finishedAt
		finishedAt = &t
	}

	return ImportJobSnapshot{
		ID:         j.id,
		Status:     j.status,
		Total:      j.total,
		Current:    j.current,
		Messages:   j.messages.Lines(),
		Errors:     j.errors.Lines(),
		StartedAt:  j.startedAt,
		FinishedAt: finishedAt,
		Result:     j.result.clone(),
		Error:      j.errMessage,
	}
}
