package queue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
)

// Handler runs one task and reports what it produced.
type Handler func(ctx context.Context, task Task) (Status, error)

// Worker reserves tasks and runs them through Handler.
//
// Each task is acknowledged only after Handler returns, whatever the outcome.
// A task whose handler was interrupted by shutdown is not acknowledged and is
// recovered on the next start.
type Worker struct {
	Queue   Queue
	Handler Handler
	// Concurrency is the number of tasks run at once. Zero means one.
	Concurrency int
	// Poll bounds each wait for a task, so shutdown is noticed promptly.
	Poll time.Duration
}

// Run processes tasks until ctx is cancelled.
//
// Errors:
//
//   - dandi-error-queue -- when orphaned tasks cannot be recovered at start
func (w *Worker) Run(ctx context.Context) error {
	log := logging.Ctx(ctx)
	n, err := w.Queue.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info(LOG_TAG, "requeued %d task(s) left over from a previous worker", n)
	}

	concurrency := w.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	poll := w.Poll
	if poll <= 0 {
		poll = 5 * time.Second
	}
	log.Info(LOG_TAG, "worker started with concurrency %d", concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx, poll)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, poll time.Duration) {
	log := logging.Ctx(ctx)
	for ctx.Err() == nil {
		r, ok, err := w.Queue.Reserve(ctx, poll)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn(LOG_TAG, "reserve failed: %s", err)
			select {
			case <-ctx.Done():
			case <-time.After(poll):
			}
			continue
		}
		if ok {
			w.process(ctx, r)
		}
	}
}

func (w *Worker) process(ctx context.Context, r Reservation) {
	log := logging.Ctx(ctx)
	task := r.Task
	log.Info(LOG_TAG, "task %s: publishing girder folder %s", task.ID, task.GirderID)

	status, err := w.run(ctx, task)
	if err != nil && ctx.Err() != nil {
		log.Warn(LOG_TAG, "task %s interrupted, leaving it for redelivery", task.ID)
		return
	}
	status.TaskID = task.ID
	status.Finished = time.Now().UTC()
	if err != nil {
		status.State = StateFailed
		status.ErrorCode = dpapi.Code(err)
		status.Error = err.Error()
		log.Warn(LOG_TAG, "task %s failed: %s", task.ID, err)
	} else {
		status.State = StateSucceeded
		log.Info(LOG_TAG, "task %s done: %s", task.ID, status.Location)
	}

	cleanup := context.WithoutCancel(ctx)
	if err := w.Queue.SetStatus(cleanup, status); err != nil {
		log.Warn(LOG_TAG, "task %s: recording status failed: %s", task.ID, err)
	}
	if err := w.Queue.Ack(cleanup, r); err != nil {
		log.Warn(LOG_TAG, "task %s: ack failed, it may run again: %s", task.ID, err)
	}
}

// run calls Handler, turning a panic into an error so the task is still acknowledged.
func (w *Worker) run(ctx context.Context, task Task) (status Status, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = dpapi.ErrorInternal("publish panicked", fmt.Errorf("%v", p))
		}
	}()
	return w.Handler(ctx, task)
}
