package remoteclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/runbroker/sandboxd/internal/executor"
)

// Options bundles the environment-derived inputs Run needs, so cmd/run-remote
// can supply real os.* lookups while tests substitute fakes.
type Options struct {
	ServerURLEnv string
	Getenv       func(name string) (string, bool)
	Getwd        func() (string, error)
	Stdout       io.Writer
	Stderr       io.Writer
}

// Run executes the full spec §4.5 sequence: resolve the server URL,
// collect forwarded env, determine cwd, POST, and replay the stream. It
// returns the exit code the process should use (remote code, 1 if
// signaled, or LocalFailureExitCode on any local/protocol failure) plus
// the error to report, if any.
func Run(ctx context.Context, client *http.Client, parsed ParsedArgs, opts Options) (int, error) {
	serverURL, err := ResolveServerURL(opts.ServerURLEnv)
	if err != nil {
		return LocalFailureExitCode, err
	}

	env, err := CollectForwardedEnv(parsed.KeepEnv, opts.Getenv)
	if err != nil {
		return LocalFailureExitCode, err
	}

	cwd, err := opts.Getwd()
	if err != nil {
		return LocalFailureExitCode, fmt.Errorf("failed to determine current working directory: %w", err)
	}

	req := executor.Request{
		Executable: parsed.Executable,
		Args:       parsed.Args,
		Cwd:        cwd,
		Env:        env,
	}

	code, err := Replay(ctx, client, serverURL, req, opts.Stdout, opts.Stderr)
	if err != nil {
		return LocalFailureExitCode, err
	}
	return code, nil
}
