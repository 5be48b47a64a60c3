// Package journal implements the append-only event log that is the sole
// source of truth for a run's conversation state (spec §3, §4.2). Every
// write is a single JSON line appended to journal.jsonl and fsynced before
// returning; every read validates each line's envelope against a JSON
// Schema, decodes its payload into the type-specific struct, and refuses to
// silently drop corruption.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deltaengine/delta/internal/domain/entity"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

const fileName = "journal.jsonl"

// Journal is single-writer per run: the engine process that owns the run
// directory (Invariant 7's pid+hostname+start-time uniqueness is what makes
// this safe without a lock file).
type Journal struct {
	path string
	mu   sync.Mutex
	next int64 // next sequence number to assign; 0 means "not yet determined"
}

// Open returns a Journal bound to runDir/journal.jsonl. It does not create
// the directory — callers must have already created the run directory
// (workspace.CreateRunDir) so that a missing directory is a clear fatal
// error rather than a silent mkdir.
func Open(runDir string) (*Journal, error) {
	if _, err := os.Stat(runDir); err != nil {
		return nil, apperr.NewJournalIOError("run directory missing", err)
	}
	return &Journal{path: filepath.Join(runDir, fileName)}, nil
}

// Append assigns the next sequence number, stamps the current UTC time with
// millisecond precision, serializes the event as one JSON line, and appends
// it to journal.jsonl, fsyncing before returning. Appends are serialized by
// an internal mutex so concurrent callers within one process never
// interleave partial lines.
func (j *Journal) Append(eventType entity.EventType, payload any) (entity.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.next == 0 {
		n, err := j.lastSeqLocked()
		if err != nil {
			return entity.Event{}, err
		}
		j.next = n + 1
	}

	ev := entity.Event{
		Seq:       j.next,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Type:      eventType,
		Payload:   payload,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return entity.Event{}, apperr.NewJournalIOError("marshal event", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return entity.Event{}, apperr.NewJournalIOError("open journal for append", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return entity.Event{}, apperr.NewJournalIOError("append event", err)
	}
	if err := f.Sync(); err != nil {
		return entity.Event{}, apperr.NewJournalIOError("fsync journal", err)
	}

	j.next++
	return ev, nil
}

// lastSeqLocked scans the existing file (if any) to find the highest seq
// already present, so Append after a process restart continues the
// sequence rather than resetting it. Called with mu held.
func (j *Journal) lastSeqLocked() (int64, error) {
	events, err := j.readRawLocked()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var max int64
	for _, e := range events {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max, nil
}

// Read loads every event, validates schema, sorts by seq, and returns the
// list. A malformed line is never silently skipped: it is surfaced as a
// CodeJournalIO AppError naming the line number (and, for a line that is
// not valid JSON, its first 200 raw bytes).
func (j *Journal) Read() ([]entity.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readRawLocked()
}

func (j *Journal) readRawLocked() ([]entity.Event, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.NewJournalIOError("open journal for read", err)
	}
	defer f.Close()

	var events []entity.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw rawEvent
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, apperr.NewJournalIOError(
				fmt.Sprintf("journal line %d is not valid JSON: %s", lineNo, truncateForError(line)), err)
		}
		if err := ValidateEvent(raw); err != nil {
			return nil, apperr.NewJournalIOError(
				fmt.Sprintf("journal line %d failed schema validation", lineNo), err)
		}
		ev, err := raw.toEvent()
		if err != nil {
			return nil, apperr.NewJournalIOError(fmt.Sprintf("journal line %d", lineNo), err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.NewJournalIOError("scan journal", err)
	}

	sort.Slice(events, func(a, b int) bool { return events[a].Seq < events[b].Seq })
	return events, nil
}

func truncateForError(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
