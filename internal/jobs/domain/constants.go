package domain

// Job run status constants
const (
	JobStatusNotStarted = "NOT_STARTED"
	JobStatusRunning    = "RUNNING"
	JobStatusCompleted  = "COMPLETED"
)

// Completion status constants, set only once a run is COMPLETED
const (
	CompletionOK    = "OK"
	CompletionError = "ERROR"
)
