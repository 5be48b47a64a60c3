// Package interaction implements the Human-interaction handler (§4.7): the
// ask_human pseudo-tool's synchronous (terminal prompt) and asynchronous
// (file-protocol, exit 101) modes.
package interaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apperr "github.com/deltaengine/delta/pkg/errors"
)

// InputType selects the sub-mode of a synchronous prompt, or labels an
// async request for the operator.
type InputType string

const (
	InputText         InputType = "text"
	InputConfirmation InputType = "confirmation"
	InputPassword     InputType = "password"
)

// AskExitCode is the process exit code the CLI returns when a run suspends
// on an async ask_human call (§6.3).
const AskExitCode = 101

// Request describes one ask_human invocation, independent of mode.
type Request struct {
	CallID    string
	Prompt    string
	InputType InputType
	Sensitive bool
}

// Result is what the handler hands back to the Run Engine to compose an
// ACTION_RESULT: Answer plus whether it should be redacted downstream.
type Result struct {
	Answer    string
	Sensitive bool
}

// AsyncRequestFile is the on-disk shape of interaction/request.json.
type AsyncRequestFile struct {
	CallID    string    `json:"call_id"`
	Prompt    string    `json:"prompt"`
	InputType InputType `json:"input_type"`
	Sensitive bool      `json:"sensitive"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler resolves ask_human calls, either synchronously at the terminal or
// by suspending the run for asynchronous file-based resumption.
type Handler struct {
	Interactive bool // true: prompt at the terminal; false: async file protocol
	In          io.Reader
	Out         io.Writer
	// readPassword reads a line with echo disabled; overridable for tests.
	readPassword func() (string, error)
	// br buffers In across readLine calls so input read ahead is kept.
	br *bufio.Reader
}

// New returns a Handler. interactive selects synchronous terminal prompting
// (the CLI's `-i` flag); when false, Resolve always returns ErrSuspend and
// the caller must follow the async file protocol via WriteAsyncRequest.
func New(interactive bool, in io.Reader, out io.Writer) *Handler {
	return &Handler{
		Interactive: interactive,
		In:          in,
		Out:         out,
		readPassword: func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(b), err
		},
	}
}

// ErrSuspend is returned by Resolve when the handler is in async mode: the
// caller must write the request file, transition to WAITING_FOR_INPUT, and
// exit with AskExitCode.
var ErrSuspend = apperr.NewConsistencyError("ask_human requires async suspension")

// Resolve answers req synchronously at the terminal, sensitive inputs read
// without echo. In async mode it always returns ErrSuspend; the caller is
// expected to fall back to WriteAsyncRequest.
func (h *Handler) Resolve(req Request) (Result, error) {
	if !h.Interactive {
		return Result{}, ErrSuspend
	}

	fmt.Fprintf(h.Out, "%s\n", req.Prompt)
	switch req.InputType {
	case InputConfirmation:
		for {
			fmt.Fprint(h.Out, "[yes/no]: ")
			line, err := h.readLine()
			if err != nil {
				return Result{}, apperr.NewConsistencyError("read confirmation: " + err.Error())
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "yes", "y":
				return Result{Answer: "yes", Sensitive: req.Sensitive}, nil
			case "no", "n":
				return Result{Answer: "no", Sensitive: req.Sensitive}, nil
			}
			fmt.Fprintln(h.Out, "please answer yes or no")
		}
	case InputPassword:
		answer, err := h.readPassword()
		fmt.Fprintln(h.Out)
		if err != nil {
			return Result{}, apperr.NewConsistencyError("read password: " + err.Error())
		}
		return Result{Answer: answer, Sensitive: true}, nil
	default:
		if req.Sensitive {
			answer, err := h.readPassword()
			fmt.Fprintln(h.Out)
			if err != nil {
				return Result{}, apperr.NewConsistencyError("read input: " + err.Error())
			}
			return Result{Answer: answer, Sensitive: true}, nil
		}
		line, err := h.readLine()
		if err != nil {
			return Result{}, apperr.NewConsistencyError("read input: " + err.Error())
		}
		return Result{Answer: line, Sensitive: req.Sensitive}, nil
	}
}

func (h *Handler) readLine() (string, error) {
	if h.br == nil {
		h.br = bufio.NewReader(h.In)
	}
	line, err := h.br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// interactionDir returns runDir/interaction.
func interactionDir(runDir string) string {
	return filepath.Join(runDir, "interaction")
}

// WriteAsyncRequest writes interaction/request.json for req under runDir.
// The caller is responsible for transitioning metadata to
// WAITING_FOR_INPUT and exiting with AskExitCode afterward.
func WriteAsyncRequest(runDir string, req Request, now time.Time) error {
	dir := interactionDir(runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.NewJournalIOError("create interaction directory", err)
	}
	file := AsyncRequestFile{
		CallID:    req.CallID,
		Prompt:    req.Prompt,
		InputType: req.InputType,
		Sensitive: req.Sensitive,
		Timestamp: now,
	}
	b, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return apperr.NewInternalErrorWithCause("marshal interaction request", err)
	}
	return os.WriteFile(filepath.Join(dir, "request.json"), b, 0o644)
}

// PendingAsyncRequest reads interaction/request.json, if present. It
// returns ok=false (no error) when no request is pending — the common case
// on every start-up that isn't resuming a WAITING_FOR_INPUT run.
func PendingAsyncRequest(runDir string) (req AsyncRequestFile, ok bool, err error) {
	b, readErr := os.ReadFile(filepath.Join(interactionDir(runDir), "request.json"))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return AsyncRequestFile{}, false, nil
		}
		return AsyncRequestFile{}, false, apperr.NewJournalIOError("read interaction request", readErr)
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return AsyncRequestFile{}, false, apperr.NewConsistencyError("parse interaction/request.json: " + err.Error())
	}
	return req, true, nil
}

// ReadAsyncResponse reads interaction/response.txt and deletes both the
// request and response files, per §4.7 ("reads ... deletes both
// interaction files, and resumes").
func ReadAsyncResponse(runDir string) (string, error) {
	dir := interactionDir(runDir)
	respPath := filepath.Join(dir, "response.txt")
	b, err := os.ReadFile(respPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.NewConsistencyError("resume requested but interaction/response.txt is missing")
		}
		return "", apperr.NewJournalIOError("read interaction response", err)
	}

	answer := strings.TrimRight(string(b), "\r\n")

	if err := os.Remove(respPath); err != nil && !os.IsNotExist(err) {
		return "", apperr.NewJournalIOError("remove interaction response", err)
	}
	if err := os.Remove(filepath.Join(dir, "request.json")); err != nil && !os.IsNotExist(err) {
		return "", apperr.NewJournalIOError("remove interaction request", err)
	}
	return answer, nil
}
