package tabular

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

const parquetBatch = 4096

// WriteParquet writes rows to a Parquet file, atomically.
func WriteParquet[T any](path string, rows []T) error {
	return atomically(path, func(f *os.File) error {
		w := parquet.NewGenericWriter[T](f)
		if len(rows) > 0 {
			if _, err := w.Write(rows); err != nil {
				return fmt.Errorf("failed to write parquet rows: %w", err)
			}
		}
		return w.Close()
	})
}

// ConsolidateParquet streams checkpoint CSVs (plain or gzipped) into one
// Parquet file, batching rows so memory stays bounded.
func ConsolidateParquet[T any](dst string, checkpoints []string) error {
	return atomically(dst, func(f *os.File) error {
		w := parquet.NewGenericWriter[T](f)
		buf := make([]T, 0, parquetBatch)

		flush := func() error {
			if len(buf) == 0 {
				return nil
			}
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("failed to write parquet batch: %w", err)
			}
			buf = buf[:0]
			return nil
		}

		for _, cp := range checkpoints {
			rc, err := OpenMaybeGzip(cp)
			if err != nil {
				return err
			}
			err = DecodeEach(rc, func(row T) error {
				buf = append(buf, row)
				if len(buf) == parquetBatch {
					return flush()
				}
				return nil
			})
			rc.Close()
			if err != nil {
				return fmt.Errorf("failed to consolidate %s: %w", cp, err)
			}
		}

		if err := flush(); err != nil {
			return err
		}
		return w.Close()
	})
}

// ReadParquet loads a whole Parquet file, for spot checks and tests.
func ReadParquet[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}
