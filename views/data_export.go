package views

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"trigno-driver/models"
)

// CSVWriter is a concurrency-safe, buffered CSV writer. The driver uses it
// for the session timing log; the CLI uses it to print drained samples.
//
// Flush is left to the owner so the hot path never blocks on I/O.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	buf    *bufio.Writer
	csv    *csv.Writer
	rows   uint64
}

// NewCSVWriter creates (or truncates) path and writes the header row.
func NewCSVWriter(path string, bufSizeBytes int, writeHeader bool, header []string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv create %s: %w", path, err)
	}
	w, err := NewCSVStream(f, bufSizeBytes, writeHeader, header)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewCSVStream writes CSV rows to out. Close flushes but leaves out open.
func NewCSVStream(out io.Writer, bufSizeBytes int, writeHeader bool, header []string) (*CSVWriter, error) {
	if bufSizeBytes <= 0 {
		bufSizeBytes = 64 * 1024
	}

	bw := bufio.NewWriterSize(out, bufSizeBytes)
	cw := csv.NewWriter(bw)

	if writeHeader && len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return nil, fmt.Errorf("csv write header: %w", err)
		}
	}

	return &CSVWriter{buf: bw, csv: cw}, nil
}

// WriteRow appends a single CSV row. Thread-safe.
func (w *CSVWriter) WriteRow(row []string) {
	w.mu.Lock()
	_ = w.csv.Write(row) // error is buffered; checked on Flush
	w.rows++
	w.mu.Unlock()
}

// WriteRecord appends rec's row.
func (w *CSVWriter) WriteRecord(rec models.CSVRowWriter) {
	w.WriteRow(rec.CSVRow())
}

// Flush pushes the buffered data to the underlying writer.
func (w *CSVWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes remaining data and closes the file, if the writer owns one.
func (w *CSVWriter) Close() error {
	err := w.Flush()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
		w.closer = nil
	}
	return err
}

// Rows returns the number of data rows written (excludes header).
func (w *CSVWriter) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}
