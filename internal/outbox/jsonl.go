package outbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// JSONLShipper appends every event to <dir>/<project_short_id>.jsonl, one
// JSON document per line. The file is append-only and durable: each batch
// ends with one fsync. A crash between write and ack repeats lines on the
// next sweep; readers dedupe on (project_id, seq).
type JSONLShipper struct {
	dir   string
	store storage.Reader
	stems map[string]string
}

func NewJSONLShipper(dir string, store storage.Reader) *JSONLShipper {
	return &JSONLShipper{dir: dir, store: store, stems: map[string]string{}}
}

func (s *JSONLShipper) Name() string { return "jsonl" }

func (s *JSONLShipper) Consume(ctx context.Context, events []*types.Event) error {
	if len(events) == 0 {
		return nil
	}
	stem, err := s.fileStem(ctx, events[0].ProjectID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create events directory: %w", err)
	}
	path := filepath.Join(s.dir, stem+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) // nolint:gosec // controlled path under data dir
	if err != nil {
		return fmt.Errorf("failed to open event log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write event %d: %w", e.Seq, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush event log file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log file: %w", err)
	}
	return nil
}

// fileStem resolves a project's short ID once and caches it; short IDs are
// immutable, so the cache never invalidates.
func (s *JSONLShipper) fileStem(ctx context.Context, projectID string) (string, error) {
	if stem, ok := s.stems[projectID]; ok {
		return stem, nil
	}
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	s.stems[projectID] = p.ShortID
	return p.ShortID, nil
}
