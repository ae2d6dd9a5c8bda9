package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"file-relay/contract"
	"file-relay/domain"
	"file-relay/domain/mimetypes"
	apperrors "file-relay/errors"
	"file-relay/observability"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	acceptedMessage        = "File accepted, streaming to broker in background"
	defaultParallelUploads = 4
)

var _ contract.TransferService = (*TransferService)(nil)

// TransferService is the entry point of the pipeline. Uploads are written to disk
// and acknowledged with 202 before the broker sees a single byte; downloads hand the
// caller its own stream while a separate task replays the file to the download queue.
type TransferService struct {
	log             *slog.Logger
	store           contract.FileStore
	catalog         contract.FileRepository
	dispatcher      contract.Dispatcher
	retrier         contract.Retrier
	metrics         *observability.TransferMetrics
	validate        *validator.Validate
	maxUploadSize   int64
	parallelUploads int
}

func NewTransferService(
	log *slog.Logger,
	store contract.FileStore,
	catalog contract.FileRepository,
	dispatcher contract.Dispatcher,
	retrier contract.Retrier,
	metrics *observability.TransferMetrics,
	maxUploadSize int64,
	parallelUploads int,
) *TransferService {
	if parallelUploads <= 0 {
		parallelUploads = defaultParallelUploads
	}
	return &TransferService{
		log:             log,
		store:           store,
		catalog:         catalog,
		dispatcher:      dispatcher,
		retrier:         retrier,
		metrics:         metrics,
		validate:        validator.New(),
		maxUploadSize:   maxUploadSize,
		parallelUploads: parallelUploads,
	}
}

// UploadFile stores the content under a fresh storage name and enqueues its
// publication. Every write attempt draws a new name.
func (s *TransferService) UploadFile(ctx context.Context, request domain.UploadRequest) (domain.UploadResult, error) {
	startedAt := time.Now()
	if err := s.check(request); err != nil {
		s.metrics.RecordUpload(err)
		return domain.UploadResult{}, err
	}

	var storageName, path string
	err := s.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		storageName = domain.NewStorageName(request.OriginalName)
		p, err := s.store.Write(storageName, request.Content)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	if err != nil {
		s.metrics.RecordUpload(err)
		s.log.Error("Upload failed", "original_name", request.OriginalName, "error", err)
		return domain.UploadResult{}, err
	}

	createdAt := time.Now().UTC()
	s.record(domain.StoredFile{
		StorageName:  storageName,
		OriginalName: request.OriginalName,
		Path:         path,
		Size:         int64(len(request.Content)),
		MimeType:     string(mimetypes.Detect(request.Content)),
		Sha256:       checksum(request.Content),
		CreatedAt:    createdAt,
	})

	task := &domain.DispatchTask{
		ID:          uuid.NewString(),
		StorageName: storageName,
		Path:        path,
		Direction:   domain.Upload,
		CreatedAt:   createdAt,
	}
	if _, err := s.dispatcher.Enqueue(task); err != nil {
		s.metrics.RecordUpload(err)
		s.log.Error("Unable to enqueue upload", "storage_name", storageName, "error", err)
		return domain.UploadResult{}, fmt.Errorf("enqueue %s: %w", storageName, err)
	}
	s.metrics.RecordUpload(nil)

	attrs := []any{
		"storage_name", storageName,
		"size", len(request.Content),
		"declared_size", request.Size,
		"duration", time.Since(startedAt),
	}
	if stats, err := observability.CurrentProcessStats(); err == nil {
		attrs = append(attrs, stats.LogAttrs()...)
	}
	s.log.Info("File uploaded", attrs...)

	return domain.UploadResult{
		Message:    acceptedMessage,
		StatusCode: 202,
		Filename:   storageName,
	}, nil
}

// UploadFiles uploads each request independently; one failure never aborts the others.
func (s *TransferService) UploadFiles(ctx context.Context, requests []domain.UploadRequest) domain.MultiUploadResult {
	names := make([]string, len(requests))
	var failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(s.parallelUploads)
	for i, request := range requests {
		g.Go(func() error {
			result, err := s.UploadFile(ctx, request)
			if err != nil {
				failed.Add(1)
				return nil
			}
			names[i] = result.Filename
			return nil
		})
	}
	_ = g.Wait()

	filenames := lo.Compact(names)
	return domain.MultiUploadResult{
		Message:   fmt.Sprintf("%d of %d files accepted", len(filenames), len(requests)),
		Filenames: filenames,
		Failed:    int(failed.Load()),
	}
}

// DownloadFile fails with ErrNotFound, and enqueues nothing, for unknown names.
func (s *TransferService) DownloadFile(ctx context.Context, storageName string) (io.ReadCloser, error) {
	if !s.store.Exists(storageName) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrNotFound, storageName)
	}
	reader, err := s.store.OpenRead(storageName)
	if err != nil {
		return nil, err
	}

	task := &domain.DispatchTask{
		ID:          uuid.NewString(),
		StorageName: storageName,
		Direction:   domain.Download,
		CreatedAt:   time.Now().UTC(),
	}
	if file, err := s.catalog.Get(storageName); err == nil {
		task.Path = file.Path
	}
	// The broker copy is an audit trail; the caller still gets the file.
	if _, err := s.dispatcher.Enqueue(task); err != nil {
		s.log.Warn("Unable to enqueue download", "storage_name", storageName, "error", err)
	}

	s.log.Debug("File download started", "storage_name", storageName)
	return reader, nil
}

func (s *TransferService) ListFiles(limit int) ([]domain.StoredFile, error) {
	return s.catalog.List(limit)
}

func (s *TransferService) check(request domain.UploadRequest) error {
	if err := s.validate.Struct(request); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidUpload, invalid.Error())
		}
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidUpload, err)
	}
	if s.maxUploadSize > 0 && int64(len(request.Content)) > s.maxUploadSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d bytes limit",
			apperrors.ErrInvalidUpload, len(request.Content), s.maxUploadSize)
	}
	return nil
}

// record is best effort: the file is on disk and will be published either way.
func (s *TransferService) record(file domain.StoredFile) {
	if err := s.catalog.Save(file); err != nil {
		s.log.Warn("Unable to record file in catalog", "storage_name", file.StorageName, "error", err)
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
