package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"file-relay/domain"
	apperrors "file-relay/errors"
	"file-relay/infrastructure/storage"
	"file-relay/mocks"
	"file-relay/runtime"
	"file-relay/runtime/workers"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	store      *mocks.MockFileStore
	catalog    *mocks.MockFileRepository
	dispatcher *mocks.MockDispatcher
	svc        *TransferService
}

func newFixture(t *testing.T, maxAttempts int) fixture {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := fixture{
		store:      mocks.NewMockFileStore(ctrl),
		catalog:    mocks.NewMockFileRepository(ctrl),
		dispatcher: mocks.NewMockDispatcher(ctrl),
	}
	retrier := runtime.NewRetrier(log, maxAttempts, time.Millisecond)
	f.svc = NewTransferService(log, f.store, f.catalog, f.dispatcher, retrier, nil, 0, 2)
	return f
}

func TestTransferService_UploadFile(t *testing.T) {
	t.Run("should store, record and enqueue the upload", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		content := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

		var written string
		f.store.EXPECT().
			Write(gomock.Any(), content).
			DoAndReturn(func(name string, data []byte) (string, error) {
				written = name
				return "/srv/public/" + name, nil
			})
		f.catalog.EXPECT().
			Save(gomock.Any()).
			DoAndReturn(func(file domain.StoredFile) error {
				req.Equal(written, file.StorageName)
				req.Equal("report final.pdf", file.OriginalName)
				req.Equal("application/pdf", file.MimeType)
				req.Equal(int64(len(content)), file.Size)
				req.Len(file.Sha256, 64)
				return nil
			})
		f.dispatcher.EXPECT().
			Enqueue(gomock.Any()).
			DoAndReturn(func(task *domain.DispatchTask) (*domain.Completion, error) {
				req.Equal(domain.Upload, task.Direction)
				req.Equal(written, task.StorageName)
				req.Equal("/srv/public/"+written, task.Path)
				req.NotEmpty(task.ID)
				return domain.NewCompletion(), nil
			})

		result, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{
			OriginalName: "report final.pdf",
			Content:      content,
			Size:         int64(len(content)),
		})

		req.NoError(err)
		req.Equal(202, result.StatusCode)
		req.Equal(written, result.Filename)
		req.True(strings.HasSuffix(result.Filename, "-report-final.pdf"))
		req.True(domain.IsValidStorageName(result.Filename))
		req.NotEmpty(result.Message)
	})

	t.Run("should retry the write with a fresh name each time", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)

		var names []string
		f.store.EXPECT().
			Write(gomock.Any(), gomock.Any()).
			DoAndReturn(func(name string, data []byte) (string, error) {
				names = append(names, name)
				if len(names) < 3 {
					return "", fmt.Errorf("%w: no space left on device", apperrors.ErrStorageWrite)
				}
				return "/srv/public/" + name, nil
			}).
			Times(3)
		f.catalog.EXPECT().Save(gomock.Any()).Return(nil)
		f.dispatcher.EXPECT().Enqueue(gomock.Any()).Return(domain.NewCompletion(), nil)

		result, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{OriginalName: "a.txt", Content: []byte("a")})

		req.NoError(err)
		req.Len(names, 3)
		req.NotEqual(names[0], names[1])
		req.NotEqual(names[1], names[2])
		req.Equal(names[2], result.Filename)
	})

	t.Run("should fail after exhausting write attempts", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 2)

		f.store.EXPECT().
			Write(gomock.Any(), gomock.Any()).
			Return("", apperrors.ErrStorageWrite).
			Times(2)
		f.catalog.EXPECT().Save(gomock.Any()).Times(0)
		f.dispatcher.EXPECT().Enqueue(gomock.Any()).Times(0)

		_, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{OriginalName: "a.txt", Content: []byte("a")})

		req.ErrorIs(err, apperrors.ErrRetryExhausted)
		req.ErrorIs(err, apperrors.ErrStorageWrite)
	})

	t.Run("should reject an invalid request without touching the disk", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		f.store.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{
			OriginalName: strings.Repeat("x", 2000),
			Content:      []byte("a"),
		})
		req.ErrorIs(err, apperrors.ErrInvalidUpload)

		_, err = f.svc.UploadFile(context.Background(), domain.UploadRequest{OriginalName: "a", Size: -1})
		req.ErrorIs(err, apperrors.ErrInvalidUpload)
	})

	t.Run("should enforce the upload size limit", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		f.svc.maxUploadSize = 4
		f.store.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{OriginalName: "big.bin", Content: []byte("12345")})

		req.ErrorIs(err, apperrors.ErrInvalidUpload)
	})

	t.Run("should accept the upload when the catalog is unavailable", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		f.store.EXPECT().Write(gomock.Any(), gomock.Any()).Return("/srv/public/x", nil)
		f.catalog.EXPECT().Save(gomock.Any()).Return(errors.New("badger: DB closed"))
		f.dispatcher.EXPECT().Enqueue(gomock.Any()).Return(domain.NewCompletion(), nil)

		result, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{OriginalName: "a.txt", Content: []byte("a")})

		req.NoError(err)
		req.Equal(202, result.StatusCode)
	})

	t.Run("should fail when the dispatcher is closed", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		f.store.EXPECT().Write(gomock.Any(), gomock.Any()).Return("/srv/public/x", nil)
		f.catalog.EXPECT().Save(gomock.Any()).Return(nil)
		f.dispatcher.EXPECT().Enqueue(gomock.Any()).Return(nil, apperrors.ErrDispatcherClosed)

		_, err := f.svc.UploadFile(context.Background(), domain.UploadRequest{OriginalName: "a.txt", Content: []byte("a")})

		req.ErrorIs(err, apperrors.ErrDispatcherClosed)
	})
}

func TestTransferService_UploadFiles(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 1)

	f.store.EXPECT().
		Write(gomock.Any(), gomock.Any()).
		DoAndReturn(func(name string, data []byte) (string, error) {
			return "/srv/public/" + name, nil
		}).
		Times(3)
	f.catalog.EXPECT().Save(gomock.Any()).Return(nil).Times(3)
	f.dispatcher.EXPECT().Enqueue(gomock.Any()).Return(domain.NewCompletion(), nil).Times(3)

	result := f.svc.UploadFiles(context.Background(), []domain.UploadRequest{
		{OriginalName: "first.txt", Content: []byte("1")},
		{OriginalName: strings.Repeat("y", 1025), Content: []byte("2")},
		{OriginalName: "second.txt", Content: []byte("3")},
		{OriginalName: "third.txt", Content: []byte("4")},
	})

	req.Equal(1, result.Failed)
	req.Len(result.Filenames, 3)
	req.True(strings.HasSuffix(result.Filenames[0], "-first.txt"))
	req.True(strings.HasSuffix(result.Filenames[1], "-second.txt"))
	req.True(strings.HasSuffix(result.Filenames[2], "-third.txt"))
	req.Equal("3 of 4 files accepted", result.Message)
}

func TestTransferService_DownloadFile(t *testing.T) {
	t.Run("should fail with not found and enqueue nothing", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		f.store.EXPECT().Exists("nonexistent.bin").Return(false)
		f.store.EXPECT().OpenRead(gomock.Any()).Times(0)
		f.dispatcher.EXPECT().Enqueue(gomock.Any()).Times(0)

		reader, err := f.svc.DownloadFile(context.Background(), "nonexistent.bin")

		req.Nil(reader)
		req.ErrorIs(err, apperrors.ErrNotFound)
	})

	t.Run("should return a stream and enqueue the download", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, 3)
		f.store.EXPECT().Exists("a.txt").Return(true)
		f.store.EXPECT().OpenRead("a.txt").Return(io.NopCloser(strings.NewReader("hello")), nil)
		f.catalog.EXPECT().Get("a.txt").Return(domain.StoredFile{StorageName: "a.txt", Path: "/srv/public/a.txt"}, nil)
		f.dispatcher.EXPECT().
			Enqueue(gomock.Any()).
			DoAndReturn(func(task *domain.DispatchTask) (*domain.Completion, error) {
				req.Equal(domain.Download, task.Direction)
				req.Equal("a.txt", task.StorageName)
				req.Equal("/srv/public/a.txt", task.Path)
				return domain.NewCompletion(), nil
			})

		reader, err := f.svc.DownloadFile(context.Background(), "a.txt")
		req.NoError(err)
		data, err := io.ReadAll(reader)
		req.NoError(err)
		req.Equal("hello", string(data))
	})
}

func TestTransferService_ListFiles(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 3)
	files := []domain.StoredFile{{StorageName: "b.txt"}, {StorageName: "a.txt"}}
	f.catalog.EXPECT().List(10).Return(files, nil)

	got, err := f.svc.ListFiles(10)

	req.NoError(err)
	req.Equal(files, got)
}

// brokerRecorder keeps a copy of every chunk per queue.
type brokerRecorder struct {
	mu     sync.Mutex
	queues map[string]*bytes.Buffer
}

func (r *brokerRecorder) publish(_ context.Context, queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[queue] == nil {
		r.queues[queue] = &bytes.Buffer{}
	}
	r.queues[queue].Write(body)
	return nil
}

func TestTransferService_UploadThenDownloadRoundTrip(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelInfo)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	defer db.Close()

	recorder := &brokerRecorder{queues: map[string]*bytes.Buffer{}}
	broker := mocks.NewMockBroker(ctrl)
	broker.EXPECT().EnsureConnected(gomock.Any()).Return(nil).AnyTimes()
	broker.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(recorder.publish).AnyTimes()

	store := storage.NewDiskStore(memfs.New(), "public", log)
	catalog := storage.NewFileRepository(db, log)
	retrier := runtime.NewRetrier(log, 3, time.Millisecond)
	streamer := workers.NewBrokerStreamer(log, broker, store, nil, domain.DefaultUploadQueue, domain.DefaultDownloadQueue, 0)
	queue := runtime.NewDispatchQueue(log, streamer, retrier, nil, 2)
	svc := NewTransferService(log, store, catalog, queue, retrier, nil, 0, 2)

	content := make([]byte, 10*domain.MB)
	_, err = rand.Read(content)
	req.NoError(err)

	result, err := svc.UploadFile(context.Background(), domain.UploadRequest{
		OriginalName: "report final.pdf",
		Content:      content,
		Size:         int64(len(content)),
	})
	req.NoError(err)
	req.Equal(202, result.StatusCode)
	req.True(strings.HasSuffix(result.Filename, "-report-final.pdf"))

	reader, err := svc.DownloadFile(context.Background(), result.Filename)
	req.NoError(err)
	downloaded, err := io.ReadAll(reader)
	req.NoError(err)
	req.NoError(reader.Close())
	req.True(bytes.Equal(content, downloaded))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req.NoError(queue.Close(ctx))

	req.True(bytes.Equal(content, recorder.queues[domain.DefaultUploadQueue].Bytes()))
	req.True(bytes.Equal(content, recorder.queues[domain.DefaultDownloadQueue].Bytes()))

	listed, err := svc.ListFiles(0)
	req.NoError(err)
	req.Len(listed, 1)
	req.Equal(result.Filename, listed[0].StorageName)
}

func TestTransferService_DownloadUnknownLeavesQueueUntouched(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	ctrl := gomock.NewController(t)

	handler := mocks.NewMockTaskHandler(ctrl)
	handler.EXPECT().Handle(gomock.Any(), gomock.Any()).Times(0)
	catalog := mocks.NewMockFileRepository(ctrl)

	store := storage.NewDiskStore(memfs.New(), "public", log)
	retrier := runtime.NewRetrier(log, 1, time.Millisecond)
	queue := runtime.NewDispatchQueue(log, handler, retrier, nil, 1)
	svc := NewTransferService(log, store, catalog, queue, retrier, nil, 0, 1)

	_, err := svc.DownloadFile(context.Background(), "nonexistent.bin")
	req.ErrorIs(err, apperrors.ErrNotFound)

	backlog, busy := queue.Stats()
	req.Zero(backlog)
	req.Zero(busy)
	req.False(store.Exists("nonexistent.bin"))
}
