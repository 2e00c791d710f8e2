package remoteclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/runbroker/sandboxd/internal/executor"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReplayExitCodePropagation(t *testing.T) {
	stdout := base64.StdEncoding.EncodeToString([]byte("hello\n"))
	stderr := base64.StdEncoding.EncodeToString([]byte("warn\n"))
	body := `{"event":"start"}
{"event":"stdout","data_b64":"` + stdout + `"}
{"event":"stderr","data_b64":"` + stderr + `"}
{"event":"exit","exitCode":3}
`
	srv := newTestServer(t, http.StatusOK, body)

	var outBuf, errBuf bytes.Buffer
	code, err := Replay(context.Background(), srv.Client(), srv.URL, executor.Request{Executable: "echo"}, &outBuf, &errBuf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if outBuf.String() != "hello\n" {
		t.Errorf("stdout = %q, want hello\\n", outBuf.String())
	}
	if errBuf.String() != "warn\n" {
		t.Errorf("stderr = %q, want warn\\n", errBuf.String())
	}
}

func TestReplaySignaledChildMapsToOne(t *testing.T) {
	body := `{"event":"start"}
{"event":"exit","exitCode":null}
`
	srv := newTestServer(t, http.StatusOK, body)

	var outBuf, errBuf bytes.Buffer
	code, err := Replay(context.Background(), srv.Client(), srv.URL, executor.Request{Executable: "echo"}, &outBuf, &errBuf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != remoteExitCodeUnavailable {
		t.Errorf("exit code = %d, want %d for signaled child", code, remoteExitCodeUnavailable)
	}
}

func TestReplayServerErrorResponse(t *testing.T) {
	srv := newTestServer(t, http.StatusForbidden, `{"error":"command not allowlisted"}`)

	var outBuf, errBuf bytes.Buffer
	_, err := Replay(context.Background(), srv.Client(), srv.URL, executor.Request{Executable: "rm"}, &outBuf, &errBuf)
	if err == nil {
		t.Fatal("expected error for 403 response, got nil")
	}
	if !strings.Contains(err.Error(), "command not allowlisted") {
		t.Errorf("error = %v, want it to mention server message", err)
	}
}

func TestReplayRuntimeErrorEvent(t *testing.T) {
	body := `{"event":"start"}
{"event":"error","message":"pipe broke"}
`
	srv := newTestServer(t, http.StatusOK, body)

	var outBuf, errBuf bytes.Buffer
	_, err := Replay(context.Background(), srv.Client(), srv.URL, executor.Request{Executable: "echo"}, &outBuf, &errBuf)
	if err == nil {
		t.Fatal("expected error for in-stream error event, got nil")
	}
	if !strings.Contains(err.Error(), "pipe broke") {
		t.Errorf("error = %v, want it to mention pipe broke", err)
	}
}

func TestReplayExitBeforeStartIsRejected(t *testing.T) {
	body := `{"event":"exit","exitCode":0}
`
	srv := newTestServer(t, http.StatusOK, body)

	var outBuf, errBuf bytes.Buffer
	_, err := Replay(context.Background(), srv.Client(), srv.URL, executor.Request{Executable: "echo"}, &outBuf, &errBuf)
	if err == nil {
		t.Fatal("expected error for exit before start, got nil")
	}
}

func TestReplayStreamEndsWithoutExit(t *testing.T) {
	body := `{"event":"start"}
{"event":"stdout","data_b64":"aGk="}
`
	srv := newTestServer(t, http.StatusOK, body)

	var outBuf, errBuf bytes.Buffer
	_, err := Replay(context.Background(), srv.Client(), srv.URL, executor.Request{Executable: "echo"}, &outBuf, &errBuf)
	if err == nil {
		t.Fatal("expected error when stream ends without an exit event, got nil")
	}
}
