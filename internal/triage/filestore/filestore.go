// Package filestore provides a triage.Store persisted to a single JSON
// document, {"tickets": [...], "escalations": [...]}.
//
// The whole document is loaded at Open and rewritten on every mutation.
// Writes go to a temp file in the same directory which is then renamed
// over the original, so readers never see a partial document.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/triage"
	"github.com/linnemanlabs/triagedesk/internal/triage/memstore"
)

// DefaultPath is where the CLI and server keep the memory bank.
const DefaultPath = "data/memory_bank.json"

type document struct {
	Tickets     []*triage.Ticket           `json:"tickets"`
	Escalations []*triage.EscalationRecord `json:"escalations"`
}

// Store is a file-backed triage.Store. Queries are served from memory;
// mutations are serialized by mu and persisted before returning.
type Store struct {
	mu     sync.Mutex
	path   string
	mem    *memstore.Store
	logger log.Logger
}

// Open loads the memory bank at path, creating it when absent. A document
// that fails to parse is logged and replaced by an empty one.
func Open(ctx context.Context, path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{path: path, mem: memstore.New(), logger: logger}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.save(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read memory bank: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn(ctx, "memory bank unreadable, starting empty", "path", path, "error", err)
		if err := s.save(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}

	for _, t := range doc.Tickets {
		if t == nil {
			continue
		}
		if err := s.mem.Add(ctx, t); err != nil {
			logger.Warn(ctx, "skipping duplicate ticket in memory bank", "ticket_id", t.ID)
		}
	}
	for _, e := range doc.Escalations {
		if e != nil {
			_ = s.mem.LogEscalation(ctx, e)
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) Add(ctx context.Context, t *triage.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Add(ctx, t); err != nil {
		return err
	}
	return s.save(ctx)
}

func (s *Store) Get(ctx context.Context, id string) (*triage.Ticket, bool, error) {
	return s.mem.Get(ctx, id)
}

func (s *Store) Similar(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	return s.mem.Similar(ctx, category, limit)
}

func (s *Store) List(ctx context.Context, category triage.Category, limit int) ([]*triage.Ticket, error) {
	return s.mem.List(ctx, category, limit)
}

func (s *Store) Count(ctx context.Context, category triage.Category) (int, error) {
	return s.mem.Count(ctx, category)
}

func (s *Store) Complete(ctx context.Context, id string, out *triage.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Complete(ctx, id, out); err != nil {
		return err
	}
	return s.save(ctx)
}

func (s *Store) LogEscalation(ctx context.Context, rec *triage.EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.LogEscalation(ctx, rec); err != nil {
		return err
	}
	return s.save(ctx)
}

func (s *Store) Escalations(ctx context.Context, limit int) ([]*triage.EscalationRecord, error) {
	return s.mem.Escalations(ctx, limit)
}

// save rewrites the whole document. Callers hold mu, except Open.
func (s *Store) save(ctx context.Context) error {
	tickets, err := s.mem.List(ctx, "", 0)
	if err != nil {
		return err
	}
	escs, err := s.mem.Escalations(ctx, 0)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(document{Tickets: tickets, Escalations: escs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory bank: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create memory bank dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp memory bank: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write memory bank: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close memory bank: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace memory bank: %w", err)
	}
	return nil
}
