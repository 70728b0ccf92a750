package webhook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditLog persists every raw webhook payload, before any parsing, as JSON
// lines. If this write fails the request is rejected: a payload we cannot
// audit is a payload we must not act on.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

type auditRecord struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	RemoteAddr string `json:"remote_addr"`
	Payload    string `json:"payload"`
	ReceivedAt string `json:"received_at"`
}

func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	f.Close()
	return &AuditLog{path: path}, nil
}

func (a *AuditLog) Record(source, remoteAddr, payload string) error {
	rec := auditRecord{
		ID:         uuid.NewString(),
		Source:     source,
		RemoteAddr: remoteAddr,
		Payload:    payload,
		ReceivedAt: time.Now().Format(time.RFC3339),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}
