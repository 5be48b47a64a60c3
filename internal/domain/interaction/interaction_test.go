package interaction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolve_TextReadsLine(t *testing.T) {
	in := strings.NewReader("Alice\n")
	var out strings.Builder
	h := New(true, in, &out)

	res, err := h.Resolve(Request{Prompt: "name?", InputType: InputText})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Answer != "Alice" || res.Sensitive {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolve_ConfirmationRejectsUntilValid(t *testing.T) {
	in := strings.NewReader("maybe\nyes\n")
	var out strings.Builder
	h := New(true, in, &out)

	res, err := h.Resolve(Request{Prompt: "proceed?", InputType: InputConfirmation})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Answer != "yes" {
		t.Fatalf("answer = %q, want yes", res.Answer)
	}
	if !strings.Contains(out.String(), "please answer yes or no") {
		t.Fatal("expected reprompt text")
	}
}

func TestResolve_AsyncModeReturnsSuspend(t *testing.T) {
	h := New(false, strings.NewReader(""), &strings.Builder{})
	_, err := h.Resolve(Request{Prompt: "x", InputType: InputText})
	if err != ErrSuspend {
		t.Fatalf("err = %v, want ErrSuspend", err)
	}
}

func TestWriteAndReadAsyncRequest(t *testing.T) {
	dir := t.TempDir()
	req := Request{CallID: "call-1", Prompt: "Password?", InputType: InputPassword, Sensitive: true}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := WriteAsyncRequest(dir, req, now); err != nil {
		t.Fatalf("WriteAsyncRequest: %v", err)
	}

	got, ok, err := PendingAsyncRequest(dir)
	if err != nil || !ok {
		t.Fatalf("PendingAsyncRequest: ok=%v err=%v", ok, err)
	}
	if got.CallID != req.CallID || got.Prompt != req.Prompt || !got.Sensitive {
		t.Fatalf("unexpected request file: %+v", got)
	}
}

func TestPendingAsyncRequest_NoneIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := PendingAsyncRequest(dir)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestReadAsyncResponse_DeletesBothFiles(t *testing.T) {
	dir := t.TempDir()
	req := Request{CallID: "call-1", Prompt: "Password?", InputType: InputText}
	if err := WriteAsyncRequest(dir, req, time.Now().UTC()); err != nil {
		t.Fatalf("WriteAsyncRequest: %v", err)
	}
	respPath := filepath.Join(dir, "interaction", "response.txt")
	if err := os.WriteFile(respPath, []byte("hunter2\n"), 0o644); err != nil {
		t.Fatalf("write response: %v", err)
	}

	answer, err := ReadAsyncResponse(dir)
	if err != nil {
		t.Fatalf("ReadAsyncResponse: %v", err)
	}
	if answer != "hunter2" {
		t.Fatalf("answer = %q, want hunter2", answer)
	}
	if _, err := os.Stat(respPath); !os.IsNotExist(err) {
		t.Fatal("expected response.txt to be deleted")
	}
	if _, err := os.Stat(filepath.Join(dir, "interaction", "request.json")); !os.IsNotExist(err) {
		t.Fatal("expected request.json to be deleted")
	}
}

func TestReadAsyncResponse_MissingFileIsConsistencyError(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadAsyncResponse(dir)
	if err == nil {
		t.Fatal("expected error for missing response.txt")
	}
}
