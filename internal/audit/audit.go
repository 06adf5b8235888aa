// Package audit writes the append-only event log: one JSON object per line,
// each holding a UTC timestamp, an event type, a level and a sanitized
// details payload. Every event is mirrored to the structured logger.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/triagedesk/internal/redact"
)

// Level is the severity attached to an event.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

const (
	// DefaultMaxBytes is the size at which the log file is rotated.
	DefaultMaxBytes = 5_000_000

	// DefaultBackups is the number of rotated files kept.
	DefaultBackups = 3
)

// Event is one line of the audit log.
type Event struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"event_type"`
	Level     Level          `json:"level"`
	Details   map[string]any `json:"details"`
}

// Recorder accepts audit events. Implementations never fail the caller.
type Recorder interface {
	Record(ctx context.Context, eventType string, level Level, details map[string]any)
}

// Log is a Recorder backed by an io.Writer, optionally a rotating file.
type Log struct {
	mu     sync.Mutex
	w      io.Writer
	logger log.Logger
	san    *redact.Sanitizer
	now    func() time.Time

	// rotation, only set by Open
	f        *os.File
	path     string
	size     int64
	maxBytes int64
	backups  int
}

// New returns a Log writing JSON lines to w.
func New(w io.Writer, logger log.Logger) *Log {
	if logger == nil {
		logger = log.Nop()
	}
	if w == nil {
		w = io.Discard
	}
	return &Log{
		w:      w,
		logger: logger,
		san:    redact.New(redact.DefaultMaxLen),
		now:    time.Now,
	}
}

// Discard returns a Log that only mirrors events to logger.
func Discard(logger log.Logger) *Log {
	return New(io.Discard, logger)
}

// Open opens (or creates) the log file at path for appending. The file is
// rotated to path.1 .. path.N once it grows past maxBytes.
func Open(path string, maxBytes int64, backups int, logger log.Logger) (*Log, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if backups < 0 {
		backups = 0
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	l := New(f, logger)
	l.f = f
	l.path = path
	l.size = st.Size()
	l.maxBytes = maxBytes
	l.backups = backups
	return l, nil
}

// WithSanitizer replaces the sanitizer applied to event details.
func (l *Log) WithSanitizer(s *redact.Sanitizer) *Log {
	if s != nil {
		l.san = s
	}
	return l
}

// Record sanitizes details and appends one event. Write failures are
// reported to the structured logger only.
func (l *Log) Record(ctx context.Context, eventType string, level Level, details map[string]any) {
	clean := l.san.Fields(details)
	if clean == nil {
		clean = map[string]any{}
	}

	ev := Event{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Level:     level,
		Details:   clean,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		fallback := Event{
			Timestamp: ev.Timestamp,
			EventType: "logging.error",
			Level:     LevelError,
			Details:   map[string]any{"original_event": eventType, "error": l.san.String(err.Error())},
		}
		line, _ = json.Marshal(fallback)
	}

	l.mirror(ctx, eventType, level, clean)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(append(line, '\n')); err != nil {
		l.logger.Error(ctx, err, "audit write failed", "event_type", eventType)
	}
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.w = io.Discard
	return err
}

func (l *Log) write(line []byte) error {
	if l.f != nil && l.size+int64(len(line)) > l.maxBytes && l.size > 0 {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.w.Write(line)
	l.size += int64(n)
	return err
}

// rotate shifts path.(N-1) -> path.N ... path -> path.1 and reopens path.
func (l *Log) rotate() error {
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}

	if l.backups == 0 {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("truncate audit log: %w", err)
		}
	} else {
		for i := l.backups - 1; i >= 1; i-- {
			src := fmt.Sprintf("%s.%d", l.path, i)
			dst := fmt.Sprintf("%s.%d", l.path, i+1)
			if err := os.Rename(src, dst); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("rotate audit log: %w", err)
			}
		}
		if err := os.Rename(l.path, l.path+".1"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		l.w = io.Discard
		l.f = nil
		return fmt.Errorf("reopen audit log: %w", err)
	}
	l.f = f
	l.w = f
	l.size = 0
	return nil
}

func (l *Log) mirror(ctx context.Context, eventType string, level Level, details map[string]any) {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]any, 0, 2+2*len(keys))
	kv = append(kv, "event_type", eventType)
	for _, k := range keys {
		kv = append(kv, k, details[k])
	}

	switch level {
	case LevelError:
		var err error
		if msg, ok := details["error"].(string); ok && msg != "" {
			err = errors.New(msg)
		}
		l.logger.Error(ctx, err, "audit event", kv...)
	case LevelWarning:
		l.logger.Warn(ctx, "audit event", kv...)
	default:
		l.logger.Info(ctx, "audit event", kv...)
	}
}
