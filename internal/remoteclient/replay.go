package remoteclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/runbroker/sandboxd/internal/executor"
	"github.com/runbroker/sandboxd/internal/rawstream"
)

// LocalFailureExitCode is reserved for local/broker/transport failures,
// per spec §4.5/§6.
const LocalFailureExitCode = 125

// remoteExitCodeUnavailable is substituted when the remote child was
// signaled (exitCode: null in the exit event).
const remoteExitCodeUnavailable = 1

// Replay posts req to serverURL and replays the resulting ND-JSON event
// stream: stdout/stderr chunks are base64-decoded and written to stdout/
// stderr in order, and the function returns the remote exit code (or 1 on
// a signaled child). Any protocol or transport failure is returned as an
// error; callers map that to LocalFailureExitCode.
func Replay(ctx context.Context, client *http.Client, serverURL string, req executor.Request, stdout, stderr io.Writer) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, serverRejectedError(resp)
	}

	return processStream(resp.Body, stdout, stderr)
}

func serverRejectedError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var body rawstream.ErrorBody
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		message = body.Error
	}
	return fmt.Errorf("server rejected request (%d): %s", resp.StatusCode, message)
}

// processStream decodes the ND-JSON body line by line and dispatches each
// event, per spec §4.5 step 6. Grounded on
// original_source/mcp-run/src/remote.rs::process_stream/handle_event_line.
func processStream(body io.Reader, stdout, stderr io.Writer) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	sawStart := false
	exitCode := -1
	haveExit := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var ev rawstream.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return 0, fmt.Errorf("invalid event JSON: %w", err)
		}

		switch ev.Event {
		case rawstream.EventStart:
			sawStart = true
		case rawstream.EventStdout:
			if err := writeDecoded(stdout, ev.DataB64); err != nil {
				return 0, err
			}
		case rawstream.EventStderr:
			if err := writeDecoded(stderr, ev.DataB64); err != nil {
				return 0, err
			}
		case rawstream.EventExit:
			if !sawStart {
				return 0, fmt.Errorf("received exit event before start event")
			}
			if ev.ExitCode != nil {
				exitCode = *ev.ExitCode
			} else {
				exitCode = remoteExitCodeUnavailable
			}
			haveExit = true
		case rawstream.EventError:
			return 0, fmt.Errorf("remote runtime error: %s", ev.Message)
		default:
			return 0, fmt.Errorf("unknown event kind: %s", ev.Event)
		}

		if haveExit {
			return exitCode, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading stream: %w", err)
	}

	return 0, fmt.Errorf("stream ended before exit event")
}

func writeDecoded(w io.Writer, dataB64 string) error {
	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return fmt.Errorf("invalid base64 payload: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if flusher, ok := w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
