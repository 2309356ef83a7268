package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileName = "trigger_audit.jsonl"

// FileStore appends records as JSON lines under a local directory. It is
// the default backend for single-instance deployments without a database.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the directory if needed and returns a file-backed
// audit store writing to trigger_audit.jsonl inside it.
func NewFileStore(dir string) (*FileStore, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	return &FileStore{path: filepath.Join(dir, fileName)}, nil
}

func (s *FileStore) Append(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(record)

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	_, err = file.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}

	return nil
}

// Recent returns up to limit records, newest first.
func (s *FileStore) Recent(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	var records []*Record

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record Record

		err := json.Unmarshal(scanner.Bytes(), &record)
		if err != nil {
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}

		records = append(records, &record)
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	// Newest first, capped at limit.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (s *FileStore) HealthCheck(_ context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("audit directory unavailable: %w", err)
	}

	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func stamp(record *Record) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
}
