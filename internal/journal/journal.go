// Package journal persists simulated fills for later analysis.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hefsys/internal/core"
)

var ErrUnknownKind = errors.New("unknown journal kind")

// Entry is one persisted fill.
type Entry struct {
	Symbol string `json:"symbol"`
	core.Fill
}

// Journal records fills. Implementations are safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Open returns the journal for kind: "none", "jsonl" or "postgres".
func Open(ctx context.Context, kind, path, dsn string) (Journal, error) {
	switch kind {
	case "", "none":
		return Nop{}, nil
	case "jsonl":
		return NewJSONL(path)
	case "postgres":
		return NewPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

// JSONL appends fills as JSON lines.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONL creates/opens the target file for appending.
func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONL{file: file, enc: json.NewEncoder(file)}, nil
}

func (j *JSONL) Record(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	return j.enc.Encode(e)
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
