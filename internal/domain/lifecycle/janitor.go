package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
)

// Verdict is the janitor's conclusion about a run left RUNNING in
// metadata.json.
type Verdict int

const (
	// VerdictAlive means another process genuinely still owns this run;
	// refuse to touch it.
	VerdictAlive Verdict = iota
	// VerdictDead means the owning process is gone (or its PID was reused by
	// an unrelated process); safe to mark INTERRUPTED and resume.
	VerdictDead
	// VerdictForeignHost means metadata.hostname doesn't match the current
	// host and --force was not supplied; refuse cleanup.
	VerdictForeignHost
)

// Janitor runs the three-layer crash-recovery check from §4.6.
type Janitor struct {
	logger      *zap.Logger
	hostname    func() (string, error)
	processName func(pid int) (string, error)
	signal0     func(pid int) error
}

// NewJanitor returns a Janitor using the real OS hostname, process table,
// and signal-0 liveness check.
func NewJanitor(logger *zap.Logger) *Janitor {
	return &Janitor{
		logger:      logger,
		hostname:    os.Hostname,
		processName: lookupProcessName,
		signal0:     func(pid int) error { return syscall.Kill(pid, 0) },
	}
}

// Inspect applies the three checks against m and returns a verdict. force
// bypasses the hostname check (operator override, §4.6 step 1).
func (j *Janitor) Inspect(m entity.Metadata, force bool) (Verdict, string) {
	currentHost, err := j.hostname()
	if err != nil {
		currentHost = ""
	}
	if !force && m.Hostname != "" && m.Hostname != currentHost {
		return VerdictForeignHost, fmt.Sprintf(
			"run %s's metadata records hostname %q, this host is %q; pass --force to override",
			m.RunID, m.Hostname, currentHost)
	}

	if m.PID <= 0 {
		return VerdictDead, fmt.Sprintf("run %s has no recorded PID", m.RunID)
	}

	err = j.signal0(m.PID)
	switch {
	case err == nil:
		// Process exists (or we lack permission to know otherwise is handled
		// below); check for PID reuse.
	case errors.Is(err, syscall.ESRCH):
		return VerdictDead, fmt.Sprintf("run %s's PID %d is no longer running", m.RunID, m.PID)
	case errors.Is(err, syscall.EPERM):
		// Cannot signal it, but it exists and belongs to someone; treat as
		// alive per §4.6 step 2.
		return VerdictAlive, fmt.Sprintf("run %s's PID %d exists but is not owned by this user", m.RunID, m.PID)
	default:
		// Unexpected error talking to the OS; be conservative and treat as
		// alive rather than risk clobbering a live run.
		return VerdictAlive, fmt.Sprintf("run %s: could not verify PID %d liveness: %v", m.RunID, m.PID, err)
	}

	name, err := j.processName(m.PID)
	if err != nil {
		return VerdictAlive, fmt.Sprintf("run %s: could not read process name for PID %d: %v", m.RunID, m.PID, err)
	}
	if name != m.ProcessName && !isEngineBinaryName(name) {
		return VerdictDead, fmt.Sprintf(
			"run %s's PID %d was reused by process %q (expected %q)", m.RunID, m.PID, name, m.ProcessName)
	}
	return VerdictAlive, fmt.Sprintf("run %s's PID %d is still running as %q", m.RunID, m.PID, name)
}

// EngineBinaryNames lists the compiled binary names the janitor treats as
// "still the engine" even if metadata.process_name was recorded under a
// different invocation name (e.g. a symlinked or renamed build).
var EngineBinaryNames = []string{"delta"}

func isEngineBinaryName(name string) bool {
	for _, n := range EngineBinaryNames {
		if n == name {
			return true
		}
	}
	return false
}

func lookupProcessName(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Name()
}

// CurrentProcessName returns the process name the Janitor will later read
// back for this process's PID, so a run's metadata.json can be stamped with
// a value that compares equal under Inspect's PID-reuse check (step 3).
func CurrentProcessName() string {
	name, err := lookupProcessName(os.Getpid())
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return name
}
