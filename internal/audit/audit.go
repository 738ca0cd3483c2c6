// Package audit appends one line per recorded attendance action.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"oncall/internal/metrics"
	"oncall/internal/queue"
)

// MessageType tags audit entries travelling through the queue.
const MessageType = "attendance"

const timeLayout = "2006-01-02 15:04:05.000000"

// Entry is a single audit line: userId,checkinTime,session.
type Entry struct {
	UserID  string
	At      time.Time
	Session string
}

// Line renders the entry without a trailing newline.
func (e Entry) Line() string {
	return e.UserID + "," + e.At.Format(timeLayout) + "," + e.Session
}

// ParseLine is the inverse of Line. Times are read in loc.
func ParseLine(s string, loc *time.Location) (Entry, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Entry{}, fmt.Errorf("audit: malformed line %q", s)
	}
	at, err := time.ParseInLocation(timeLayout, parts[1], loc)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: bad time in %q: %w", s, err)
	}
	return Entry{UserID: parts[0], At: at, Session: parts[2]}, nil
}

// Recorder stores audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// FileRecorder appends lines to a file, creating it on first use.
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

// NewFileRecorder ensures the parent directory exists.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if path == "" {
		return nil, errors.New("audit: log path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create log dir: %w", err)
		}
	}
	return &FileRecorder{path: path}, nil
}

// Record appends e to the file.
func (r *FileRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", r.path, err)
	}
	if _, err := f.WriteString(e.Line() + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("audit: write: %w", err)
	}
	return f.Close()
}

// QueueRecorder hands entries to a queue; cmd/worker drains them into a FileRecorder.
type QueueRecorder struct {
	q queue.Queue
}

// NewQueueRecorder wraps q.
func NewQueueRecorder(q queue.Queue) *QueueRecorder {
	return &QueueRecorder{q: q}
}

// Record publishes e as an attendance message.
func (r *QueueRecorder) Record(ctx context.Context, e Entry) error {
	return r.q.Publish(ctx, queue.Message{Type: MessageType, Body: []byte(e.Line())})
}

// Drain copies queued attendance entries into dst until ctx ends, returning how many were recorded.
func Drain(ctx context.Context, q queue.Queue, dst Recorder, loc *time.Location, log *slog.Logger) (int, error) {
	messages, err := q.Consume(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for msg := range messages {
		if msg.Type != MessageType {
			log.Debug("skipping message", "type", msg.Type)
			continue
		}
		entry, err := ParseLine(string(msg.Body), loc)
		if err != nil {
			log.Warn("dropping malformed audit message", "error", err)
			continue
		}
		if err := dst.Record(ctx, entry); err != nil {
			metrics.AuditFailures.Inc()
			log.Error("audit record failed", "user_id", entry.UserID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
