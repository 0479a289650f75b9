// Package audit records every PHI-touching transition and mutating
// operation. Entries are hash-chained so an exported trail is
// tamper-evident.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/model"
)

// Recorder is the interface core operations record through. Exactly one
// entry per state-changing operation, written before the caller is
// acknowledged.
type Recorder interface {
	Record(ctx context.Context, action, resource, resourceID string, outcome model.AuditOutcome, phiTouch bool, context map[string]any) (model.AuditEntry, error)
}

// Trail additionally supports reading entries back, for export and the
// idempotence checks.
type Trail interface {
	Recorder
	Query(ctx context.Context, f Filter) ([]model.AuditEntry, error)
}

// Filter narrows a trail query.
type Filter struct {
	Resource   string
	ResourceID string
	ActorID    string
	Since      time.Time
	Until      time.Time
}

// Log is an in-process Trail writing JSON lines to a writer and keeping
// entries in memory for query. The hash chain runs per resource stream.
type Log struct {
	mu      sync.Mutex
	writer  io.Writer
	entries []model.AuditEntry
	heads   map[string]string // resource stream -> last hash
	now     func() time.Time
}

// NewLog creates a Log writing to os.Stdout.
func NewLog() *Log { return NewLogWithWriter(os.Stdout) }

// NewLogWithWriter creates a Log writing to the given writer. Allows
// injection for testing and custom sinks.
func NewLogWithWriter(w io.Writer) *Log {
	if w == nil {
		w = os.Stdout
	}
	return &Log{
		writer: w,
		heads:  make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewLogFromReader rebuilds a Log from a previously written sink so a
// trail can be queried or exported out of process. New entries continue
// each stream's hash chain and are written to w.
func NewLogFromReader(r io.Reader, w io.Writer) (*Log, error) {
	l := NewLogWithWriter(w)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "AUDIT: ")
		var e model.AuditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("audit: sink line %d: %w", len(l.entries)+1, err)
		}
		l.entries = append(l.entries, e)
		l.heads[e.Resource+":"+e.ResourceID] = e.Hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: read sink: %w", err)
	}
	return l, nil
}

// WithClock overrides the timestamp source. Test hook.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

func (l *Log) Record(ctx context.Context, action, resource, resourceID string, outcome model.AuditOutcome, phiTouch bool, meta map[string]any) (model.AuditEntry, error) {
	actorID := auth.ActorID(ctx)
	role := ""
	if p, err := auth.GetPrincipal(ctx); err == nil && len(p.GetRoles()) > 0 {
		role = string(p.GetRoles()[0])
	}

	entry := model.AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		ActorRole:  role,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Outcome:    outcome,
		PHITouch:   phiTouch,
		At:         l.now(),
		Context:    meta,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := resource + ":" + resourceID
	entry.PrevHash = l.heads[stream]
	hash, err := chainHash(entry)
	if err != nil {
		return model.AuditEntry{}, err
	}
	entry.Hash = hash
	l.heads[stream] = hash
	l.entries = append(l.entries, entry)

	bytes, err := json.Marshal(entry)
	if err != nil {
		return model.AuditEntry{}, err
	}
	// Prefix with AUDIT: for easy filtering
	if _, err := l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...)); err != nil {
		return model.AuditEntry{}, err
	}
	return entry, nil
}

func (l *Log) Query(ctx context.Context, f Filter) ([]model.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.AuditEntry, 0)
	for _, e := range l.entries {
		if f.Resource != "" && e.Resource != f.Resource {
			continue
		}
		if f.ResourceID != "" && e.ResourceID != f.ResourceID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if !f.Since.IsZero() && e.At.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.At.After(f.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// chainHash computes SHA-256 over the RFC 8785 canonical form of the
// entry with its own Hash field cleared.
func chainHash(entry model.AuditEntry) (string, error) {
	entry.Hash = ""
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain checks hash continuity for one resource stream. Returns
// the index of the first broken entry, or -1 when intact.
func VerifyChain(entries []model.AuditEntry) int {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return i
		}
		want, err := chainHash(e)
		if err != nil || want != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}
