package domain

import "time"

const KB = 1024
const MB = KB * KB

// UploadRequest is what the transport layer extracts from an incoming upload.
// It only lives for the duration of the request.
type UploadRequest struct {
	OriginalName string `validate:"max=1024"`
	Content      []byte
	Size         int64 `validate:"gte=0"`
}

// StoredFile is the catalog record of bytes persisted under StorageName.
type StoredFile struct {
	StorageName  string
	OriginalName string
	Path         string
	Size         int64
	MimeType     string
	Sha256       string
	CreatedAt    time.Time
}

type UploadResult struct {
	Message    string
	StatusCode int
	Filename   string
}

type MultiUploadResult struct {
	Message   string
	Filenames []string
	Failed    int
}
