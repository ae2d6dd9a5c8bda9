package domain

import (
	"context"
	"sync"
	"time"
)

type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return "unknown"
	}
}

// DispatchTask is one file streamed to the broker.
// BytesSent and NextChunk are a resume cursor: a retried task skips what was
// already published. Only the worker that claimed the task touches them.
type DispatchTask struct {
	ID          string
	StorageName string
	Path        string
	Direction   Direction
	CreatedAt   time.Time
	BytesSent   int64
	NextChunk   int
}

// Completion is resolved exactly once when a task reaches a terminal state.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve records the terminal outcome. Later calls are ignored.
func (c *Completion) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, nil until Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the task is terminal or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}
