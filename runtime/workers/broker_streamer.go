package workers

import (
	"context"
	"errors"
	"file-relay/contract"
	"file-relay/domain"
	apperrors "file-relay/errors"
	"file-relay/observability"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const DefaultChunkSize = 64 * domain.KB

var _ contract.TaskHandler = (*BrokerStreamer)(nil)

// BrokerStreamer publishes a stored file to the broker, one message per chunk.
// Each call to Handle is one attempt; the task cursor lets a retry pick up
// after the last chunk the broker accepted.
type BrokerStreamer struct {
	log           *slog.Logger
	broker        contract.Broker
	store         contract.FileStore
	metrics       *observability.TransferMetrics
	uploadQueue   string
	downloadQueue string
	chunkSize     int
	buffers       sync.Pool
}

func NewBrokerStreamer(
	log *slog.Logger,
	broker contract.Broker,
	store contract.FileStore,
	metrics *observability.TransferMetrics,
	uploadQueue, downloadQueue string,
	chunkSize int,
) *BrokerStreamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := &BrokerStreamer{
		log:           log,
		broker:        broker,
		store:         store,
		metrics:       metrics,
		uploadQueue:   uploadQueue,
		downloadQueue: downloadQueue,
		chunkSize:     chunkSize,
	}
	s.buffers.New = func() any {
		buf := make([]byte, s.chunkSize)
		return &buf
	}
	return s
}

func (s *BrokerStreamer) Handle(ctx context.Context, task *domain.DispatchTask) error {
	// Once per attempt, not per chunk.
	if err := s.broker.EnsureConnected(ctx); err != nil {
		return err
	}

	reader, err := s.store.OpenRead(task.StorageName)
	if err != nil {
		return err
	}
	defer reader.Close()

	if task.BytesSent > 0 {
		if _, err := io.CopyN(io.Discard, reader, task.BytesSent); err != nil {
			return fmt.Errorf("%w: resume %s at byte %d: %w", apperrors.ErrStorageRead, task.StorageName, task.BytesSent, err)
		}
		s.log.Debug("Resuming transfer", "task_id", task.ID, "storage_name", task.StorageName,
			"next_chunk", task.NextChunk, "bytes_sent", task.BytesSent)
	}

	queue := s.queueFor(task.Direction)
	bufp := s.buffers.Get().(*[]byte)
	defer s.buffers.Put(bufp)
	buf := *bufp

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			if err := s.broker.Publish(ctx, queue, buf[:n]); err != nil {
				return fmt.Errorf("chunk %d of %s: %w", task.NextChunk, task.StorageName, err)
			}
			task.NextChunk++
			task.BytesSent += int64(n)
			s.metrics.AddPublishedBytes(queue, n)
			s.log.Debug("Chunk published", "storage_name", task.StorageName, "queue", queue,
				"chunk", task.NextChunk-1, "bytes", n)
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("%w: read %s: %w", apperrors.ErrStorageRead, task.StorageName, readErr)
		}
	}
}

func (s *BrokerStreamer) queueFor(direction domain.Direction) string {
	if direction == domain.Download {
		return s.downloadQueue
	}
	return s.uploadQueue
}
