package domain

import "errors"

var (
	// ErrJobNotFound is returned when no run is registered under an id
	ErrJobNotFound = errors.New("job not found")

	// ErrAdmissionRejected is returned when a job is enqueued after shutdown
	ErrAdmissionRejected = errors.New("job admission rejected")

	// ErrInvalidName is returned when a plugin name cannot be used as a file name
	ErrInvalidName = errors.New("invalid plugin name")
)

// GenerationError wraps any failure that happened while producing a job's archive
type GenerationError struct {
	JobID string
	Err   error
}

func (e *GenerationError) Error() string {
	return "generation failed for job " + e.JobID + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a new generation error
func NewGenerationError(jobID string, err error) error {
	return &GenerationError{JobID: jobID, Err: err}
}
