package domain

import (
	"math/big"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxStorageNameLength bounds generated names, extension included.
const MaxStorageNameLength = 50

const (
	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// 62^22 > 2^128, so every UUID fits in 22 digits.
	idWidth = 22
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.]`)
	storageNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// NewStorageName derives a unique, filesystem-safe name from a user supplied filename.
// The result is "<base36 epoch millis>-<base62 uuid>-<sanitized name>", cut down to
// MaxStorageNameLength by shortening the stem and keeping the extension.
func NewStorageName(originalName string) string {
	return composeStorageName(time.Now(), uuid.New(), originalName)
}

func composeStorageName(now time.Time, id uuid.UUID, originalName string) string {
	prefix := strconv.FormatInt(now.UnixMilli(), 36) + "-" + encodeID(id)
	sanitized := unsafeFilenameChars.ReplaceAllString(originalName, "-")
	if sanitized == "" {
		return prefix
	}
	budget := MaxStorageNameLength - len(prefix) - 1
	return prefix + "-" + truncateKeepingExt(sanitized, budget)
}

// truncateKeepingExt shortens name to at most limit bytes. The extension survives
// unless it alone does not fit. The input is ASCII once sanitized.
func truncateKeepingExt(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := path.Ext(name)
	if ext == name || len(ext) >= limit {
		return name[:limit]
	}
	stem := strings.TrimSuffix(name, ext)
	return stem[:limit-len(ext)] + ext
}

func encodeID(id uuid.UUID) string {
	n := new(big.Int).SetBytes(id[:])
	base := big.NewInt(int64(len(base62Alphabet)))
	mod := new(big.Int)
	out := make([]byte, idWidth)
	for i := idWidth - 1; i >= 0; i-- {
		n.DivMod(n, base, mod)
		out[i] = base62Alphabet[mod.Int64()]
	}
	return string(out)
}

// IsValidStorageName reports whether name could have been produced by NewStorageName.
// Every lookup goes through it so user input never walks outside the storage directory.
func IsValidStorageName(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > MaxStorageNameLength {
		return false
	}
	return storageNamePattern.MatchString(name)
}
