package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncState represents where an entity's synchronization attempt currently
// stands. The set is closed; transitions go through the SyncJob methods so an
// illegal move is always an error.
//
// Lifecycle: uninitialized or stale -> fetching -> validating -> merging ->
// up_to_date. Any active state may move to failed. A fetch that returns no new
// rows completes directly from fetching.
type SyncState string

const (
	SyncStateUninitialized SyncState = "uninitialized" // no prior data or metadata for the entity
	SyncStateStale         SyncState = "stale"         // entity has a cursor and needs refreshing
	SyncStateFetching      SyncState = "fetching"      // provider request in flight
	SyncStateValidating    SyncState = "validating"    // fetched rows under quality checks
	SyncStateMerging       SyncState = "merging"       // merging fetched rows into the stored series
	SyncStateUpToDate      SyncState = "up_to_date"    // terminal success
	SyncStateFailed        SyncState = "failed"        // terminal failure for this attempt
)

// IsValid reports whether the state is one of the defined constants.
func (s SyncState) IsValid() bool {
	switch s {
	case SyncStateUninitialized, SyncStateStale, SyncStateFetching,
		SyncStateValidating, SyncStateMerging, SyncStateUpToDate, SyncStateFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state ends the attempt.
func (s SyncState) Terminal() bool {
	return s == SyncStateUpToDate || s == SyncStateFailed
}

// SyncJob tracks one synchronization attempt for a (symbol, interval) entity.
// A job is created per run; failures are isolated to the attempt and the next
// run starts a fresh job, so there is no retry transition out of failed.
type SyncJob struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	State     SyncState `json:"state"`
	RowsAdded int       `json:"rows_added"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSyncJob creates a job in the uninitialized state.
// Call MarkStale when the entity already has a sync cursor.
func NewSyncJob(symbol, interval string) *SyncJob {
	now := time.Now().UTC()
	return &SyncJob{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Interval:  interval,
		State:     SyncStateUninitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks required fields and that the state is a defined constant.
func (j *SyncJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if j.Symbol == "" {
		return fmt.Errorf("job symbol cannot be empty")
	}
	if j.Interval == "" {
		return fmt.Errorf("job interval cannot be empty")
	}
	if !j.State.IsValid() {
		return fmt.Errorf("invalid sync state: %s", j.State)
	}
	if j.RowsAdded < 0 {
		return fmt.Errorf("rows added cannot be negative")
	}
	return nil
}

// MarkStale transitions the job from uninitialized to stale, recording that
// the entity has prior data whose cursor says an update is due.
func (j *SyncJob) MarkStale() error {
	if j.State != SyncStateUninitialized {
		return fmt.Errorf("cannot mark job stale: current state is %s, expected %s", j.State, SyncStateUninitialized)
	}

	j.State = SyncStateStale
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// StartFetch transitions the job into fetching. Legal from uninitialized
// (first sync) and stale (incremental update). Clears any previous error.
func (j *SyncJob) StartFetch() error {
	if j.State != SyncStateUninitialized && j.State != SyncStateStale {
		return fmt.Errorf("cannot start fetch: current state is %s, expected %s or %s",
			j.State, SyncStateUninitialized, SyncStateStale)
	}

	j.State = SyncStateFetching
	j.Error = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// StartValidate transitions the job from fetching to validating.
func (j *SyncJob) StartValidate() error {
	if j.State != SyncStateFetching {
		return fmt.Errorf("cannot start validation: current state is %s, expected %s", j.State, SyncStateFetching)
	}

	j.State = SyncStateValidating
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// StartMerge transitions the job from validating to merging.
func (j *SyncJob) StartMerge() error {
	if j.State != SyncStateValidating {
		return fmt.Errorf("cannot start merge: current state is %s, expected %s", j.State, SyncStateValidating)
	}

	j.State = SyncStateMerging
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions the job to up_to_date and records how many rows the
// attempt added. Legal from merging, and from fetching when the provider
// returned no new rows so validation and merge were skipped.
func (j *SyncJob) Complete(rowsAdded int) error {
	if j.State != SyncStateMerging && j.State != SyncStateFetching {
		return fmt.Errorf("cannot complete job: current state is %s, expected %s or %s",
			j.State, SyncStateMerging, SyncStateFetching)
	}
	if rowsAdded < 0 {
		return fmt.Errorf("rows added cannot be negative: %d", rowsAdded)
	}

	j.State = SyncStateUpToDate
	j.RowsAdded = rowsAdded
	j.Error = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail transitions the job to failed from any active state, recording the
// error message. Terminal states cannot fail again.
func (j *SyncJob) Fail(errMsg string) error {
	if j.State.Terminal() {
		return fmt.Errorf("cannot fail job: current state %s is terminal", j.State)
	}

	j.State = SyncStateFailed
	j.Error = errMsg
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Runnable reports whether the job is waiting to be executed.
func (j *SyncJob) Runnable() bool {
	return j.State == SyncStateUninitialized || j.State == SyncStateStale
}

// Succeeded reports whether the job finished with the entity up to date.
func (j *SyncJob) Succeeded() bool {
	return j.State == SyncStateUpToDate
}

// Failed reports whether the job ended in failure.
func (j *SyncJob) Failed() bool {
	return j.State == SyncStateFailed
}

// Elapsed returns the time since the job was created.
func (j *SyncJob) Elapsed() time.Duration {
	return time.Since(j.CreatedAt)
}

// Summary returns a one-line digest of the job for logs and CLI output.
func (j *SyncJob) Summary() string {
	if j.Error != "" {
		return fmt.Sprintf("%s %s: %s (%s)", j.Symbol, j.Interval, j.State, j.Error)
	}
	return fmt.Sprintf("%s %s: %s (%d rows added)", j.Symbol, j.Interval, j.State, j.RowsAdded)
}
