package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage reports bytes held by the metadata database and the local blob root.
type Usage struct {
	DatabaseBytes int64 `json:"database_bytes"`
	BlobBytes     int64 `json:"blob_bytes"`
}

// MeasureUsage sums the database file (with its WAL and shared-memory siblings) and
// every file under blobRoot. Missing paths count as zero.
func MeasureUsage(dbPath, blobRoot string) (Usage, error) {
	var u Usage
	if dbPath != "" && dbPath != ":memory:" {
		n, err := pathBytes(dbPath, dbPath+"-wal", dbPath+"-shm")
		if err != nil {
			return u, err
		}
		u.DatabaseBytes = n
	}
	n, err := pathBytes(blobRoot)
	if err != nil {
		return u, err
	}
	u.BlobBytes = n
	return u, nil
}

func pathBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
