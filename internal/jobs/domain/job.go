package domain

// JobRun is a snapshot of a job's lifecycle. It is never mutated: every
// transition returns a new copy.
type JobRun struct {
	ID string

	// Times are milliseconds since the epoch. StartedTime is 0 until the run
	// starts.
	CreatedTime     int64
	StartedTime     int64
	LastUpdatedTime int64

	Status string

	// Result is the archive path of a successful run
	Result string

	// Err is the failure of an unsuccessful run
	Err error
}

// NewJobRun creates a run that has not started yet
func NewJobRun(id string, now int64) JobRun {
	return JobRun{
		ID:              id,
		CreatedTime:     now,
		LastUpdatedTime: now,
		Status:          JobStatusNotStarted,
	}
}

// Started returns the run moved to RUNNING
func (r JobRun) Started(now int64) JobRun {
	r.StartedTime = now
	r.LastUpdatedTime = now
	r.Status = JobStatusRunning
	return r
}

// Succeeded returns the run completed with an archive path
func (r JobRun) Succeeded(now int64, result string) JobRun {
	r.LastUpdatedTime = now
	r.Status = JobStatusCompleted
	r.Result = result
	r.Err = nil
	return r
}

// Failed returns the run completed with an error
func (r JobRun) Failed(now int64, err error) JobRun {
	r.LastUpdatedTime = now
	r.Status = JobStatusCompleted
	r.Result = ""
	r.Err = err
	return r
}

func (r JobRun) Completed() bool {
	return r.Status == JobStatusCompleted
}

// CompletionStatus returns OK or ERROR for a completed run and "" otherwise
func (r JobRun) CompletionStatus() string {
	switch {
	case !r.Completed():
		return ""
	case r.Err != nil:
		return CompletionError
	default:
		return CompletionOK
	}
}

// ErrorMessage returns the message of the captured error, if any
func (r JobRun) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
