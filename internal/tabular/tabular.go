// Package tabular persists the flat row schemas every job produces. It
// covers the whole checkpoint lifecycle: header-stable CSV files opened in
// append mode, gzip-compressed checkpoint files written atomically, and
// constant-memory consolidation of many checkpoints into one output.
package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/klauspost/compress/gzip"
)

// newEncoder builds the encoder all writers share. Floats are kept in plain
// decimal notation; the default 'G' form turns large round values like
// 5324000 into scientific notation.
func newEncoder(w *csv.Writer) *csvutil.Encoder {
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = false
	enc.Register(func(f float64) ([]byte, error) {
		return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
	})
	return enc
}

// Exists reports whether a checkpoint or output file is already on disk.
// This is the resume test: present means the unit is done.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Header returns the CSV header of a row type, in struct order.
func Header[T any]() ([]string, error) {
	h, err := csvutil.Header(*new(T), "csv")
	if err != nil {
		return nil, fmt.Errorf("failed to derive header: %w", err)
	}
	return h, nil
}

// EnsureCSV creates path with only the header of T when the file does not
// exist. Existing files, whatever their content, are left alone.
func EnsureCSV[T any](path string) error {
	if Exists(path) {
		return nil
	}
	header, err := Header[T]()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(strings.Join(header, ",")+"\n"), 0644)
}

// AppendStructs appends rows to a CSV file, writing the header first when
// the file is new or empty.
func AppendStructs[T any](path string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	enc := newEncoder(w)

	if st.Size() == 0 {
		header, err := Header[T]()
		if err != nil {
			return err
		}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

// WriteStructs writes rows (with header) to path, replacing any previous
// content. The write goes through a temp file and rename so readers never
// observe a half-written file.
func WriteStructs[T any](path string, rows []T) error {
	return atomically(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		enc := newEncoder(w)

		header, err := Header[T]()
		if err != nil {
			return err
		}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		for i := range rows {
			if err := enc.Encode(rows[i]); err != nil {
				return fmt.Errorf("failed to encode row: %w", err)
			}
		}
		w.Flush()
		return w.Error()
	})
}

// WriteGzipStructs writes rows as a gzip-compressed CSV checkpoint,
// atomically. An empty rows slice still produces a valid checkpoint holding
// only the header, which is what marks a unit with no data as done.
func WriteGzipStructs[T any](path string, rows []T) error {
	return atomically(path, func(f *os.File) error {
		gz := gzip.NewWriter(f)
		w := csv.NewWriter(gz)
		enc := newEncoder(w)

		header, err := Header[T]()
		if err != nil {
			return err
		}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		for i := range rows {
			if err := enc.Encode(rows[i]); err != nil {
				return fmt.Errorf("failed to encode row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		return gz.Close()
	})
}

// ReadStructs decodes all CSV rows from r into a slice of T.
func ReadStructs[T any](r io.Reader) ([]T, error) {
	var out []T
	if err := DecodeEach(r, func(row T) error {
		out = append(out, row)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStructsFile decodes a whole CSV (or .csv.gz) file into a slice of T.
func ReadStructsFile[T any](path string) ([]T, error) {
	rc, err := OpenMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	rows, err := ReadStructs[T](rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}

// DecodeEach streams CSV rows from r, calling fn for each decoded row.
func DecodeEach[T any](r io.Reader, fn func(T) error) error {
	cr := csv.NewReader(r)
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if err == io.EOF {
			return nil // empty file, no header
		}
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	for {
		var row T
		err := dec.Decode(&row)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode row: %w", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// OpenMaybeGzip opens a file, transparently ungzipping *.gz.
func OpenMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open gzip %s: %w", path, err)
	}
	return &gzipFile{gz: gz, f: f}, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	gzErr := g.gz.Close()
	fErr := g.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

// Consolidate streams checkpoint CSVs (plain or gzipped) into one output,
// keeping a single header line. All checkpoints must share the first file's
// header. Memory use is constant in the number and size of checkpoints.
func Consolidate(dst string, checkpoints []string) error {
	return atomically(dst, func(f *os.File) error {
		out := bufio.NewWriter(f)
		var header string

		for _, cp := range checkpoints {
			if err := appendCheckpoint(out, cp, &header); err != nil {
				return err
			}
		}

		return out.Flush()
	})
}

func appendCheckpoint(out *bufio.Writer, path string, header *string) error {
	rc, err := OpenMaybeGzip(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	line, err := br.ReadString('\n')
	if err == io.EOF && line == "" {
		return nil // zero-byte checkpoint, nothing to merge
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	h := strings.TrimRight(line, "\r\n")
	if *header == "" {
		*header = h
		if _, err := out.WriteString(h + "\n"); err != nil {
			return err
		}
	} else if h != *header {
		return fmt.Errorf("checkpoint %s header %q does not match %q", path, h, *header)
	}

	nt := &newlineTerminated{w: out}
	if _, err := io.Copy(nt, br); err != nil {
		return fmt.Errorf("failed to copy %s: %w", path, err)
	}
	return nt.Close()
}

// newlineTerminated guarantees copied content ends with a newline so the
// next checkpoint's rows never glue onto the previous one's last row.
type newlineTerminated struct {
	w    *bufio.Writer
	last byte
}

func (t *newlineTerminated) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := t.w.Write(p)
	if n > 0 {
		t.last = p[n-1]
	}
	return n, err
}

func (t *newlineTerminated) Close() error {
	if t.last != 0 && t.last != '\n' {
		return t.w.WriteByte('\n')
	}
	return nil
}

// atomically runs write against a temp file next to path, then renames it
// into place.
func atomically(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
