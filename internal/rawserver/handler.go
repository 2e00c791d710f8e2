// Package rawserver implements the uncapped, streaming subprocess-execution
// HTTP endpoint (POST /raw) described in spec §4.4.
package rawserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/runbroker/sandboxd/internal/executor"
	"github.com/runbroker/sandboxd/internal/policy"
	"github.com/runbroker/sandboxd/internal/rawstream"
)

// Handler serves POST /raw against a shared Executor.
type Handler struct {
	executor *executor.Executor
}

func New(exec *executor.Executor) *Handler {
	return &Handler{executor: exec}
}

// Handle implements the pre-flight + streaming sequence from spec §4.4:
// bad JSON -> 400, policy denial -> 403, spawn/pipe failure -> 500;
// otherwise 200 + application/x-ndjson starting with a "start" event.
func (h *Handler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	requestID := uuid.NewString()

	var req executor.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		log.Warn().Str("request_id", requestID).Err(err).Msg("raw request rejected before validation")
		return c.JSON(http.StatusBadRequest, rawstream.ErrorBody{Error: "invalid request payload: " + err.Error()})
	}

	cmd, pipes, err := h.executor.SpawnStreaming(ctx, req)
	if err != nil {
		if isPolicyDenial(err) {
			log.Warn().Str("request_id", requestID).Str("command", req.Executable).Err(err).Msg("raw request denied by policy")
			return c.JSON(http.StatusForbidden, rawstream.ErrorBody{Error: err.Error()})
		}
		log.Error().Str("request_id", requestID).Str("command", req.Executable).Err(err).Msg("raw request failed before stream start")
		return c.JSON(http.StatusInternalServerError, rawstream.ErrorBody{Error: err.Error()})
	}

	log.Info().Str("request_id", requestID).Str("command", req.Executable).Strs("args", req.Args).Msg("raw request accepted")

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	var writeMu sync.Mutex
	emit := func(ev rawstream.Event) bool {
		writeMu.Lock()
		defer writeMu.Unlock()
		line, merr := json.Marshal(ev)
		if merr != nil {
			log.Error().Err(merr).Msg("failed serializing raw stream event")
			return false
		}
		line = append(line, '\n')
		if _, werr := w.Write(line); werr != nil {
			return false
		}
		w.Flush()
		return true
	}

	if !emit(rawstream.Start()) {
		killChild(cmd)
		return nil
	}

	streamBody(cmd, pipes, emit)
	return nil
}

// isPolicyDenial reports whether err originates from the policy layer
// (either a clean CommandNotAllowed or any other ValidationError), all of
// which map to 403 per spec §7's raw-endpoint mapping.
func isPolicyDenial(err error) bool {
	var execErr *executor.Error
	if !errors.As(err, &execErr) || execErr.Kind != executor.ErrValidation {
		return false
	}
	var valErr *policy.ValidationError
	return errors.As(execErr.Err, &valErr)
}

// streamBody drains both pipes concurrently, one goroutine per stream so
// per-stream order is preserved with no cross-stream ordering guarantee.
// Once both readers drain, it waits for the child and emits exit/error.
// Grounded on raw.rs's read_output_stream + stream_process_events.
func streamBody(cmd *exec.Cmd, pipes executor.Pipes, emit func(rawstream.Event) bool) {
	var wg sync.WaitGroup
	var disconnectOnce sync.Once
	killed := false
	var readErrMu sync.Mutex
	var readErr error
	markDisconnected := func() {
		disconnectOnce.Do(func() {
			killed = true
			killChild(cmd)
		})
	}

	readPipe := func(r interface {
		Read([]byte) (int, error)
	}, kind rawstream.EventKind) {
		defer wg.Done()
		buf := make([]byte, 8192)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := base64.StdEncoding.EncodeToString(buf[:n])
				var ev rawstream.Event
				if kind == rawstream.EventStdout {
					ev = rawstream.Stdout(data)
				} else {
					ev = rawstream.Stderr(data)
				}
				if !emit(ev) {
					markDisconnected()
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					readErrMu.Lock()
					if readErr == nil {
						readErr = err
					}
					readErrMu.Unlock()
				}
				return
			}
		}
	}

	wg.Add(2)
	go readPipe(pipes.Stdout, rawstream.EventStdout)
	go readPipe(pipes.Stderr, rawstream.EventStderr)
	wg.Wait()

	if killed {
		return
	}

	if readErr != nil {
		emit(rawstream.Err(readErr.Error()))
		killChild(cmd)
		return
	}

	exitCode, err := executor.WaitStreaming(cmd)
	if err != nil {
		emit(rawstream.Err(err.Error()))
		killChild(cmd)
		return
	}

	emit(rawstream.Exit(exitCode))
}

func killChild(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()
}
