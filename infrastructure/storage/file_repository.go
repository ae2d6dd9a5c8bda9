package storage

import (
	"errors"
	"file-relay/contract"
	"file-relay/domain"
	apperrors "file-relay/errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ contract.FileRepository = (*FileRepository)(nil)

const filePrefix = "file:"

// FileRepository is the catalog of stored files, kept in BadgerDB.
// Storage names start with a base36 timestamp, so key order is creation order.
type FileRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewFileRepository(db *badger.DB, log *slog.Logger) *FileRepository {
	return &FileRepository{
		db:  db,
		log: log,
	}
}

func fileKey(storageName string) []byte {
	return []byte(filePrefix + storageName)
}

// Save inserts or replaces the catalog entry of a stored file.
func (f FileRepository) Save(file domain.StoredFile) error {
	data, err := marshalStoredFile(file)
	if err != nil {
		return fmt.Errorf("failed to marshal file %s: %w", file.StorageName, err)
	}
	return f.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(file.StorageName), data)
	})
}

func (f FileRepository) Get(storageName string) (domain.StoredFile, error) {
	var file domain.StoredFile
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(storageName))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", apperrors.ErrNotFound, storageName)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			file, err = unmarshalStoredFile(v)
			return err
		})
	})
	return file, err
}

// List returns up to limit entries, newest first. A limit <= 0 returns everything.
func (f FileRepository) List(limit int) ([]domain.StoredFile, error) {
	var files []domain.StoredFile
	prefix := []byte(filePrefix)

	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the last key sharing the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(files) >= limit {
				break
			}
			err := it.Item().Value(func(v []byte) error {
				file, err := unmarshalStoredFile(v)
				if err != nil {
					return err
				}
				files = append(files, file)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error during catalog scan: %w", err)
	}
	return files, nil
}

func marshalStoredFile(file domain.StoredFile) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"storage_name":  file.StorageName,
		"original_name": file.OriginalName,
		"path":          file.Path,
		"size":          float64(file.Size),
		"mime_type":     file.MimeType,
		"sha256":        file.Sha256,
		"created_at":    file.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func unmarshalStoredFile(data []byte) (domain.StoredFile, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return domain.StoredFile{}, fmt.Errorf("failed to unmarshal file: %w", err)
	}
	fields := s.GetFields()
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"].GetStringValue())
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("invalid created_at: %w", err)
	}
	return domain.StoredFile{
		StorageName:  fields["storage_name"].GetStringValue(),
		OriginalName: fields["original_name"].GetStringValue(),
		Path:         fields["path"].GetStringValue(),
		Size:         int64(fields["size"].GetNumberValue()),
		MimeType:     fields["mime_type"].GetStringValue(),
		Sha256:       fields["sha256"].GetStringValue(),
		CreatedAt:    createdAt,
	}, nil
}
