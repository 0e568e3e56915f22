package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
)

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	Type       amqp.EventType `json:"type"`
	RecordID   string         `json:"record_id"`
	Record     *core.Record   `json:"record,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

// AuditWorker appends every record event it handles to a JSON lines file.
type AuditWorker struct {
	mu   sync.Mutex
	path string
	file *os.File
	now  func() time.Time

	processed int64
}

// NewAuditWorker opens (or creates) the audit log at path for appending.
func NewAuditWorker(path string) (*AuditWorker, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &AuditWorker{
		path: path,
		file: f,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleRecordEvent writes ev as one line and syncs the file. An error
// means the line may not be durable and the event should be redelivered.
func (w *AuditWorker) HandleRecordEvent(ctx context.Context, ev *amqp.RecordEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := AuditEntry{
		Type:       ev.Type,
		RecordID:   ev.RecordID,
		Record:     ev.Record,
		OccurredAt: ev.Timestamp,
		ReceivedAt: w.now(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("audit log %s is closed", w.path)
	}
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	w.processed++

	slog.InfoContext(ctx, "Recorded audit entry",
		"type", ev.Type,
		"record_id", ev.RecordID)
	return nil
}

// Processed returns how many events have been written.
func (w *AuditWorker) Processed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed
}

// Close closes the audit log. Further events are rejected.
func (w *AuditWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
