package engine

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrAdmissionRejected is returned by Submit when the queue is full.
	ErrAdmissionRejected = errors.New("render queue full")
	// ErrShutdown is returned by Submit after Shutdown. It is also an
	// ErrAdmissionRejected.
	ErrShutdown = errors.Mark(errors.New("scheduler shut down"), ErrAdmissionRejected)
	// ErrTimeout is returned by RunSync when the job did not finish in time.
	// The job has been cancelled.
	ErrTimeout = errors.New("render timed out")
	// ErrInterrupted is returned by RunSync when the caller's context ended
	// before the job finished. The job has been cancelled.
	ErrInterrupted = errors.New("wait interrupted")
	// ErrCancelled is the outcome of a job that was cancelled before it
	// finished.
	ErrCancelled = errors.New("render cancelled")
	// ErrNotFound is returned for job ids that are unknown, expired or
	// already collected.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady is returned by Collect for a job that has not finished. It
	// is also an ErrNotFound: an unfinished result cannot be collected.
	ErrNotReady = errors.Mark(errors.New("job not finished"), ErrNotFound)
	// ErrPipeline marks every failure raised by a pipeline stage.
	ErrPipeline = errors.New("pipeline failed")
)

// PipelineError is a stage failure inside a render job.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return "pipeline " + e.Stage + ": " + e.Err.Error()
}

// Unwrap exposes the stage error.
func (e *PipelineError) Unwrap() error { return e.Err }

// Is makes every PipelineError match ErrPipeline.
func (e *PipelineError) Is(target error) bool { return target == ErrPipeline }

// cancelled builds the outcome of a job stopped at checkpoint. The
// cancellation cause, when there is one, is kept in the chain.
func cancelled(checkpoint string, cause error) error {
	err := errors.Wrapf(ErrCancelled, "at %s", checkpoint)
	if cause != nil && !errors.Is(cause, ErrCancelled) {
		err = errors.WithSecondaryError(err, cause)
	}
	return err
}
