//go:build tracing

package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileExporter exports traces to a JSON Lines file with size-based rotation.
type FileExporter struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int
	file            *os.File
	encoder         *json.Encoder
	mu              sync.Mutex
	closed          bool
}

// WithMaxSize sets the maximum file size before rotation (default: 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(iface interface{}) {
		if fe, ok := iface.(*FileExporter); ok {
			fe.maxSizeBytes = bytes
		}
	}
}

// WithMaxRotatedFiles sets how many rotated files to keep (default: 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(iface interface{}) {
		if fe, ok := iface.(*FileExporter); ok {
			fe.maxRotatedFiles = count
		}
	}
}

// NewFileExporter creates a file-based trace exporter. The file is opened
// immediately and rotation is checked on each Export.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	fe := &FileExporter{
		filePath:        filePath,
		maxSizeBytes:    10 * 1024 * 1024,
		maxRotatedFiles: 5,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return nil
}

// Export writes a trace record as a JSON Lines entry and rotates the file
// when it exceeds the configured size.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("exporter closed")
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	if err := fe.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true
	if fe.file == nil {
		return nil
	}
	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.file.Close()
}

// rotateIfNeeded rotates when the current file reached maxSizeBytes.
// Must be called with the lock held.
func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxSizeBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close trace file for rotation: %w", err)
	}

	// Drop the oldest rotated file, shift .N-1 -> .N, current -> .1.
	oldest := fmt.Sprintf("%s.%d", fe.filePath, fe.maxRotatedFiles)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("remove oldest rotated file: %w", err)
		}
	}
	for i := fe.maxRotatedFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", fe.filePath, i)
		dst := fmt.Sprintf("%s.%d", fe.filePath, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("shift rotated file %s -> %s: %w", src, dst, err)
			}
		}
	}
	if err := os.Rename(fe.filePath, fe.filePath+".1"); err != nil {
		return fmt.Errorf("rotate current file: %w", err)
	}

	return fe.open()
}
