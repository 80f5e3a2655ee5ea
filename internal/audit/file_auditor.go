package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of an audit record.
type fileEntry struct {
	Timestamp    string  `json:"ts"`
	Tool         string  `json:"tool"`
	SQL          string  `json:"sql"`
	Verdict      string  `json:"verdict,omitempty"`
	Unsafe       bool    `json:"unsafe"`
	Location     string  `json:"location,omitempty"` // caller of the guard, for rejected iterations
	RowsReturned int     `json:"rows_returned"`
	DurationMS   int64   `json:"duration_ms"`
	Error        *string `json:"error"`
}

// FileAuditor writes audit entries as NDJSON (one JSON object per line) to a file.
type FileAuditor struct {
	mu             sync.Mutex
	file           *os.File
	enc            *json.Encoder
	violationsOnly bool
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
// With violationsOnly set, only iterations rejected by the guard are written.
func NewFileAuditor(path string, violationsOnly bool) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileAuditor{
		file:           f,
		enc:            json.NewEncoder(f),
		violationsOnly: violationsOnly,
	}, nil
}

func (a *FileAuditor) Record(_ context.Context, entry port.AuditEntry) {
	var unsafe *domain.UnsafeQueryError
	isUnsafe := errors.As(entry.Err, &unsafe)
	if a.violationsOnly && !isUnsafe {
		return
	}

	fe := fileEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Tool:         entry.Tool,
		SQL:          entry.SQL,
		Verdict:      entry.Verdict,
		Unsafe:       isUnsafe,
		RowsReturned: entry.RowsReturned,
		DurationMS:   entry.DurationMS,
	}
	if isUnsafe {
		fe.Location = unsafe.Location()
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; don't fail the request for audit I/O
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
