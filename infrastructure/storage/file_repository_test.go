package storage

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"file-relay/domain"
	apperrors "file-relay/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// SetupTestDB initializes a temporary Badger instance for testing
func SetupTestDB(t *testing.T) (*badger.DB, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)

	return db, func() {
		db.Close()
	}
}

func storedFile(name string, createdAt time.Time) domain.StoredFile {
	return domain.StoredFile{
		StorageName:  name,
		OriginalName: "report final.pdf",
		Path:         "/srv/public/" + name,
		Size:         3 * domain.MB,
		MimeType:     "application/pdf",
		Sha256:       "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		CreatedAt:    createdAt,
	}
}

func TestFileRepository_SaveAndGet(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	createdAt := time.Date(2025, 10, 9, 8, 53, 20, 123456789, time.UTC)
	file := storedFile("mgj6k3cw-0000000000000000000010-report-final.pdf", createdAt)

	req.NoError(repo.Save(file))

	got, err := repo.Get(file.StorageName)
	req.NoError(err)
	req.Equal(file, got)
}

func TestFileRepository_GetUnknown(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := repo.Get("missing.bin")
	req.ErrorIs(err, apperrors.ErrNotFound)
}

func TestFileRepository_ListNewestFirst(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("a%d-file.txt", i)
		req.NoError(repo.Save(storedFile(name, base.Add(time.Duration(i)*time.Minute))))
	}

	all, err := repo.List(0)
	req.NoError(err)
	req.Len(all, 5)
	req.Equal("a4-file.txt", all[0].StorageName)
	req.Equal("a0-file.txt", all[4].StorageName)

	firstTwo, err := repo.List(2)
	req.NoError(err)
	req.Len(firstTwo, 2)
	req.Equal("a4-file.txt", firstTwo[0].StorageName)
	req.Equal("a3-file.txt", firstTwo[1].StorageName)
}

func TestFileRepository_SaveReplaces(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	file := storedFile("same.txt", time.Now().UTC())
	req.NoError(repo.Save(file))

	file.MimeType = "text/plain; charset=utf-8"
	req.NoError(repo.Save(file))

	all, err := repo.List(10)
	req.NoError(err)
	req.Len(all, 1)
	req.Equal("text/plain; charset=utf-8", all[0].MimeType)
}
