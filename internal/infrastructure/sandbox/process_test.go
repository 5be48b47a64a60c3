package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestSpawner() *Spawner {
	return NewSpawner(zap.NewNop())
}

func TestRun_CapturesStdoutAndExitCode(t *testing.T) {
	s := newTestSpawner()
	res, err := s.Run(context.Background(), RunOptions{
		Argv:    []string{"sh", "-c", "echo hello"},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "hello" {
		t.Fatalf("stdout = %q, want %q", got, "hello")
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Killed {
		t.Fatal("expected Killed = false")
	}
}

func TestRun_NonZeroExitCode(t *testing.T) {
	s := newTestSpawner()
	res, err := s.Run(context.Background(), RunOptions{
		Argv:    []string{"sh", "-c", "exit 7"},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", res.ExitCode)
	}
}

func TestRun_StdinIsDelivered(t *testing.T) {
	s := newTestSpawner()
	res, err := s.Run(context.Background(), RunOptions{
		Argv:    []string{"cat"},
		Stdin:   []byte("piped input"),
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(res.Stdout); got != "piped input" {
		t.Fatalf("stdout = %q, want %q", got, "piped input")
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	s := newTestSpawner()
	start := time.Now()
	res, err := s.Run(context.Background(), RunOptions{
		Argv:    []string{"sh", "-c", "trap '' TERM; sleep 10"},
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Killed {
		t.Fatal("expected Killed = true")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took too long to return after timeout: %v", elapsed)
	}
}

func TestRun_OutputTruncation(t *testing.T) {
	s := newTestSpawner()
	res, err := s.Run(context.Background(), RunOptions{
		Argv:           []string{"sh", "-c", "head -c 1000 /dev/zero | tr '\\0' 'a'"},
		Timeout:        2 * time.Second,
		OutputCapBytes: 100,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.StdoutTruncated {
		t.Fatal("expected StdoutTruncated = true")
	}
	if len(res.Stdout) != 100 {
		t.Fatalf("stdout len = %d, want 100", len(res.Stdout))
	}
}

func TestRun_ExtraEnvIsVisible(t *testing.T) {
	s := newTestSpawner()
	res, err := s.Run(context.Background(), RunOptions{
		Argv:    []string{"sh", "-c", "echo $DELTA_RUN_ID"},
		Env:     []string{"DELTA_RUN_ID=run-123"},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "run-123" {
		t.Fatalf("stdout = %q, want %q", got, "run-123")
	}
}

func TestRun_EmptyArgvErrors(t *testing.T) {
	s := newTestSpawner()
	if _, err := s.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
}
