//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"file-relay/domain"
	"io"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// FileStore persists uploaded bytes under their storage name.
type FileStore interface {
	Write(storageName string, data []byte) (string, error)
	Exists(storageName string) bool
	OpenRead(storageName string) (io.ReadCloser, error)
}

// FileRepository is the metadata catalog of stored files.
type FileRepository interface {
	Save(file domain.StoredFile) error
	Get(storageName string) (domain.StoredFile, error)
	List(limit int) ([]domain.StoredFile, error)
}

// Broker owns the single shared connection and channel to the message broker.
type Broker interface {
	Connect(ctx context.Context) error
	EnsureConnected(ctx context.Context) error
	Publish(ctx context.Context, queue string, body []byte) error
	State() domain.BrokerState
	Close() error
}

// TaskHandler performs one attempt of a dispatch task.
type TaskHandler interface {
	Handle(ctx context.Context, task *domain.DispatchTask) error
}

type Dispatcher interface {
	Enqueue(task *domain.DispatchTask) (*domain.Completion, error)
}

type Retrier interface {
	Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error
}

type TransferService interface {
	UploadFile(ctx context.Context, request domain.UploadRequest) (domain.UploadResult, error)
	UploadFiles(ctx context.Context, requests []domain.UploadRequest) domain.MultiUploadResult
	DownloadFile(ctx context.Context, storageName string) (io.ReadCloser, error)
	ListFiles(limit int) ([]domain.StoredFile, error)
}
