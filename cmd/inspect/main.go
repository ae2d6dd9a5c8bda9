package main

import (
	"file-relay/domain"
	"file-relay/infrastructure/storage"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/catalog", "Path to the catalog Badger DB")
	prefix := flag.String("prefix", "file:", "Prefix to scan")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Storage name", "Original name", "Mime type", "Size", "Created at", "Sha256"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	var files, broken int
	var total int64
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(v []byte) error {
				file, err := storage.DecodeStoredFile(v)
				if err != nil {
					// Keep listing, one bad record should not hide the others.
					color.Warn.Printf("Skipping %s: %v\n", key, err)
					broken++
					return nil
				}
				files++
				total += file.Size
				table.Append([]string{
					file.StorageName,
					file.OriginalName,
					file.MimeType,
					fmt.Sprintf("%d", file.Size),
					file.CreatedAt.Format("2006-01-02 15:04:05"),
					shorten(file.Sha256, 12),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	color.Info.Printf("\n%d files, %.1f MB", files, float64(total)/domain.MB)
	if broken > 0 {
		color.Error.Printf(", %d unreadable", broken)
	}
	fmt.Println()
}

func shorten(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		// A relay killed mid-write leaves a value log that needs truncating first.
		if strings.Contains(err.Error(), "Log truncate required") {
			color.Warn.Println("Catalog needs a truncate, repairing before read-only open")
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
