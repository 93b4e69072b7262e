package download

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/monitoring"
)

// WorkerState is the lifecycle state of a Worker
type WorkerState int

const (
	Idle WorkerState = iota
	Working
	Paused
	Closed
)

func (s WorkerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Working:
		return "working"
	case Paused:
		return "paused"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("WorkerState(%d)", int(s))
}

// Worker claims jobs from the shared queue and runs the Basket's action on
// them. Workers live for one Basket.
type Worker struct {
	id     int
	queue  *jobQueue
	action Action
	sink   *ProgressSink
	logger *zap.Logger

	// guarded by queue.mu
	state  WorkerState
	paused bool
}

func newWorker(id int, queue *jobQueue, action Action, logger *zap.Logger) *Worker {
	w := &Worker{
		id:     id,
		queue:  queue,
		action: action,
		sink:   &ProgressSink{},
		logger: logger.With(zap.Int("worker", id)),
	}
	queue.register(w)
	return w
}

// State returns the current state
func (w *Worker) State() WorkerState {
	w.queue.mu.Lock()
	defer w.queue.mu.Unlock()
	return w.state
}

// Sink returns the worker's progress sink
func (w *Worker) Sink() *ProgressSink {
	return w.sink
}

// run processes jobs until the queue shuts down or the remote side becomes
// unreachable
func (w *Worker) run(ctx context.Context) error {
	monitoring.WorkerStarted()
	defer monitoring.WorkerStopped()

	for {
		job, ok := w.queue.claim(w)
		if !ok {
			return nil
		}

		outcome := w.execute(ctx, job)
		w.sink.Record(outcome)
		monitoring.RecordTrackOutcome(string(w.action.Kind()), outcome.Succeeded)

		if !outcome.Succeeded {
			monitoring.RecordError(string(apperrors.GetErrorType(outcome.Err)))
			w.logger.Debug("Track failed",
				zap.String("playlist", job.PlaylistTitle),
				zap.Int64("track", job.Track.ID),
				zap.String("reason", outcome.Reason),
				zap.Error(outcome.Err))
		}

		if apperrors.IsConnectivityError(outcome.Err) {
			w.logger.Error("Service unreachable, stopping worker",
				zap.String("playlist", job.PlaylistTitle),
				zap.Error(outcome.Err))
			w.queue.retire(w)
			return nil
		}

		w.queue.release(w)
	}
}

// execute runs the action, turning a panic into a failed outcome
func (w *Worker) execute(ctx context.Context, job *Job) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Action panicked",
				zap.Int64("track", job.Track.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			job.log.Error(job.Name(), reasonInternal)
			outcome = failed(reasonInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	return w.action.Execute(ctx, job)
}
