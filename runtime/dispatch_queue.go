package runtime

import (
	"context"
	"file-relay/contract"
	"file-relay/domain"
	apperrors "file-relay/errors"
	"file-relay/observability"
	"log/slog"
	"sync"
	"time"
)

var _ contract.Dispatcher = (*DispatchQueue)(nil)

type pendingTask struct {
	task       *domain.DispatchTask
	completion *domain.Completion
}

// DispatchQueue is the single admission point in front of the broker.
// Tasks start in FIFO order and at most maxConcurrentProcessing run at once.
// The backlog drains on every Enqueue and every worker completion.
type DispatchQueue struct {
	mu                      sync.Mutex
	log                     *slog.Logger
	handler                 contract.TaskHandler
	retrier                 contract.Retrier
	metrics                 *observability.TransferMetrics
	maxConcurrentProcessing int
	currentWorkers          int
	backlog                 []pendingTask
	closed                  bool
	wg                      sync.WaitGroup
	ctx                     context.Context
	cancel                  context.CancelFunc
}

func NewDispatchQueue(
	log *slog.Logger,
	handler contract.TaskHandler,
	retrier contract.Retrier,
	metrics *observability.TransferMetrics,
	maxConcurrentProcessing int,
) *DispatchQueue {
	if maxConcurrentProcessing < 1 {
		maxConcurrentProcessing = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchQueue{
		log:                     log,
		handler:                 handler,
		retrier:                 retrier,
		metrics:                 metrics,
		maxConcurrentProcessing: maxConcurrentProcessing,
		ctx:                     ctx,
		cancel:                  cancel,
	}
}

// Enqueue appends task to the backlog. The returned completion resolves once the
// task succeeded or exhausted its retries; there is no way to cancel it.
func (q *DispatchQueue) Enqueue(task *domain.DispatchTask) (*domain.Completion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, apperrors.ErrDispatcherClosed
	}
	completion := domain.NewCompletion()
	q.backlog = append(q.backlog, pendingTask{task: task, completion: completion})
	q.log.Debug("Task enqueued",
		"task_id", task.ID, "storage_name", task.StorageName, "direction", task.Direction.String(),
		"backlog", len(q.backlog))

	q.processQueue()
	return completion, nil
}

// processQueue starts workers while there is both work and a free slot.
// Callers must hold q.mu.
func (q *DispatchQueue) processQueue() {
	for len(q.backlog) > 0 && q.currentWorkers < q.maxConcurrentProcessing {
		next := q.backlog[0]
		q.backlog[0] = pendingTask{}
		q.backlog = q.backlog[1:]
		q.currentWorkers++
		q.wg.Add(1)
		go q.work(next)
	}
	q.metrics.SetQueueState(len(q.backlog), q.currentWorkers)
}

func (q *DispatchQueue) work(p pendingTask) {
	// Done runs after the next task was claimed, so Close never sees the
	// counter reach zero while the backlog still holds work.
	defer q.wg.Done()

	startedAt := time.Now()
	err := q.retrier.Do(q.ctx, func(ctx context.Context, attempt int) error {
		return q.handler.Handle(ctx, p.task)
	})
	q.metrics.RecordTask(p.task.Direction.String(), time.Since(startedAt), err)

	if err != nil {
		q.log.Error("Dispatch task failed",
			"task_id", p.task.ID, "storage_name", p.task.StorageName,
			"direction", p.task.Direction.String(), "error", err)
	} else {
		q.log.Info("Dispatch task completed",
			"task_id", p.task.ID, "storage_name", p.task.StorageName,
			"direction", p.task.Direction.String(), "chunks", p.task.NextChunk,
			"bytes", p.task.BytesSent, "duration", time.Since(startedAt))
	}
	p.completion.Resolve(err)

	q.mu.Lock()
	q.currentWorkers--
	q.processQueue()
	q.mu.Unlock()
}

// Stats returns the backlog length and the number of busy workers.
func (q *DispatchQueue) Stats() (backlog int, workers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog), q.currentWorkers
}

// Close stops admissions and waits for every queued task to finish.
// If ctx ends first, running tasks are cancelled; their completions still resolve.
func (q *DispatchQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.log.Warn("Dispatch queue did not drain in time, cancelling running tasks")
		q.cancel()
		<-drained
		return ctx.Err()
	}
}
