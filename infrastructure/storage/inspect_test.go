package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCatalogMapper(t *testing.T) {
	req := require.New(t)
	file := storedFile("x-report.pdf", time.Date(2025, 10, 9, 8, 53, 20, 0, time.UTC))
	val, err := marshalStoredFile(file)
	req.NoError(err)

	row := CatalogMapper("file:x-report.pdf", val)

	req.Equal("application/pdf", row.Type)
	req.Equal("report final.pdf (3.0 MB) at 2025-10-09 08:53:20", row.Detail)
	req.Equal("9f86d081884c", row.Scores)
}

func TestCatalogMapper_Garbage(t *testing.T) {
	req := require.New(t)

	row := CatalogMapper("file:broken", []byte{0xff, 0xff, 0xff})

	req.Equal("Error: unmarshal failed", row.Detail)
}

func TestHumanSize(t *testing.T) {
	req := require.New(t)
	req.Equal("512 B", humanSize(512))
	req.Equal("1.5 KB", humanSize(1536))
	req.Equal("10.0 MB", humanSize(10*1024*1024))
}
