package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileRecorderConfig configures the file recorder
type FileRecorderConfig struct {
	BasePath string // Directory holding audit.log and rotated files
	MaxSize  int64  // Rotate when audit.log reaches this size (default: 100MB)
	MaxFiles int    // Rotated files to keep (default: 10)
}

// FileRecorder appends entries as newline-delimited JSON to a local file.
// It is an append-only sink for deployments shipping audit logs elsewhere.
type FileRecorder struct {
	cfg    FileRecorderConfig
	mu     sync.Mutex
	file   *os.File
	size   int64
	nextID int64
}

// NewFileRecorder opens (or creates) BasePath/audit.log for appending
func NewFileRecorder(cfg FileRecorderConfig) (*FileRecorder, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	r := &FileRecorder{cfg: cfg}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRecorder) current() string {
	return filepath.Join(r.cfg.BasePath, "audit.log")
}

func (r *FileRecorder) open() error {
	f, err := os.OpenFile(r.current(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Record appends one JSON line
func (r *FileRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return ErrRecorderClosed
	}
	if r.size >= r.cfg.MaxSize {
		if err := r.rotate(); err != nil {
			return err
		}
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == 0 {
		r.nextID++
		entry.ID = r.nextID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')
	n, err := r.file.Write(data)
	r.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate renames audit.log with a timestamp suffix and reopens it. The lock must be held.
func (r *FileRecorder) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	r.file = nil

	rotated := filepath.Join(r.cfg.BasePath, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(r.current(), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log file: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(r.cfg.BasePath, "audit-*.log"))
	if err == nil && len(files) > r.cfg.MaxFiles {
		sort.Strings(files)
		for _, f := range files[:len(files)-r.cfg.MaxFiles] {
			_ = os.Remove(f)
		}
	}

	return r.open()
}

// Close syncs and closes the file
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		r.file = nil
		return fmt.Errorf("failed to sync audit log file: %w", err)
	}
	err := r.file.Close()
	r.file = nil
	return err
}
