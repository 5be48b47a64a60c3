package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deltaengine/delta/internal/domain/entity"
)

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return j, dir
}

func TestAppend_MonotonicSequencing(t *testing.T) {
	j, _ := newTestJournal(t)

	var seqs []int64
	for i := 0; i < 5; i++ {
		ev, err := j.Append(entity.EventSystemMsg, entity.SystemMessagePayload{Note: "x"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		seqs = append(seqs, ev.Seq)
	}

	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("seq[%d] = %d, want %d", i, s, i+1)
		}
	}
}

func TestReadAfterAppend_Identical(t *testing.T) {
	j, _ := newTestJournal(t)

	if _, err := j.Append(entity.EventRunStart, entity.RunStartPayload{Task: "greet", AgentRef: "a", ConfigFingerprint: "f"}); err != nil {
		t.Fatalf("append run start: %v", err)
	}
	if _, err := j.Append(entity.EventThought, entity.ThoughtPayload{Content: "thinking"}); err != nil {
		t.Fatalf("append thought: %v", err)
	}
	if _, err := j.Append(entity.EventRunEnd, entity.RunEndPayload{Status: "COMPLETED"}); err != nil {
		t.Fatalf("append run end: %v", err)
	}

	first, err := j.Read()
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := j.Read()
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 events, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Seq != second[i].Seq || first[i].Type != second[i].Type {
			t.Fatalf("reads diverged at index %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRead_RejectsCorruptLine(t *testing.T) {
	j, dir := newTestJournal(t)

	if _, err := j.Append(entity.EventRunStart, entity.RunStartPayload{Task: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteString("{not valid json\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	f.Close()

	if _, err := j.Read(); err == nil {
		t.Fatal("expected Read to fail on corrupt line, got nil error")
	}
}

func TestRead_MissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	events, err := j.Read()
	if err != nil {
		t.Fatalf("Read on fresh journal: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

func TestOpen_MissingRunDirFails(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected Open to fail for missing run directory")
	}
}

func TestMetadata_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := entity.Metadata{RunID: "abc", Status: entity.StatusRunning, PID: 123, Hostname: "h"}
	if err := WriteMetadata(dir, m); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	got, err := ReadMetadata(dir)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if got.RunID != m.RunID || got.Status != m.Status || got.PID != m.PID {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, m)
	}
}

func TestUpdateMetadata_Merges(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMetadata(dir, entity.Metadata{RunID: "abc", Status: entity.StatusRunning, Iteration: 0}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	updated, err := UpdateMetadata(dir, func(m *entity.Metadata) {
		m.Iteration++
		m.Status = entity.StatusCompleted
	})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if updated.Iteration != 1 || updated.Status != entity.StatusCompleted {
		t.Fatalf("unexpected merged metadata: %+v", updated)
	}
}
