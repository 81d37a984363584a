package transfer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Job is a transfer running on its own goroutine.
type Job struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs req in the background. The handler is called from the job's
// goroutine; callers marshal its data to their own goroutine if needed.
func Start(ctx context.Context, req *Request) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r := *req
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r.Logger = logger.With("job", j.id)

	go func() {
		defer close(j.done)
		defer cancel()
		j.err = Transfer(ctx, &r)
	}()
	return j
}

// ID returns the job identifier used in log records.
func (j *Job) ID() string {
	return j.id
}

// Cancel asks the transfer to stop. Wait then returns ErrInterrupted
// unless the transfer had already finished.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the transfer has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the transfer finishes and returns its result.
func (j *Job) Wait() error {
	<-j.done
	return j.err
}
