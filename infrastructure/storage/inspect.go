package storage

import (
	"file-relay/domain"
	"fmt"
	"strings"

	"github.com/mama165/sdk-go/database"
)

// CatalogMapper renders catalog entries in the Badger debug inspector.
func CatalogMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if !strings.HasPrefix(key, filePrefix) {
		return row
	}

	file, err := unmarshalStoredFile(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Type = file.MimeType
	row.Detail = DescribeFile(file)
	row.Scores = shortChecksum(file.Sha256)
	return row
}

// DescribeFile is the one-line summary shown by the inspection tools.
func DescribeFile(file domain.StoredFile) string {
	return fmt.Sprintf("%s (%s) at %s", file.OriginalName, humanSize(file.Size), file.CreatedAt.Format("2006-01-02 15:04:05"))
}

// DecodeStoredFile exposes the catalog encoding to read-only tools.
func DecodeStoredFile(val []byte) (domain.StoredFile, error) {
	return unmarshalStoredFile(val)
}

func humanSize(n int64) string {
	switch {
	case n >= domain.MB:
		return fmt.Sprintf("%.1f MB", float64(n)/domain.MB)
	case n >= domain.KB:
		return fmt.Sprintf("%.1f KB", float64(n)/domain.KB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
