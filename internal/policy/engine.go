package policy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Mode is the two-state sum type described in spec §3: Live or DenyAll.
type Mode int

const (
	ModeDenyAll Mode = iota
	ModeLive
)

// Snapshot is the immutable value installed atomically on every (re)load.
type Snapshot struct {
	Mode        Mode
	artifact    *artifactHandle
	ModuleCount int
	DenyReason  string
}

// artifactHandle wraps the prepared query so Snapshot stays a plain
// comparable-by-pointer value; evalAllow is the only thing that dereferences it.
type artifactHandle struct {
	eval func(ctx context.Context, in EvaluationInput) (bool, error)
}

// Engine is the policy singleton: a read-mostly snapshot pointer plus a
// writer-side mutex serializing reloads against each other. Evaluators
// never block on the writer; they load the current snapshot pointer.
type Engine struct {
	dir      string
	snapshot atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	watcher  *fileWatcher
}

// NewEngine never fails construction: a bad initial load installs DenyAll
// with the error recorded, exactly as spec §4.1 requires.
func NewEngine(policyDir string) (*Engine, error) {
	e := &Engine{dir: policyDir}
	e.reload(context.Background())

	watcher, err := newFileWatcher(policyDir, e.handleChange)
	if err != nil {
		e.installDenyAll("watcher: " + err.Error())
		return e, nil
	}
	e.watcher = watcher

	return e, nil
}

// Validate resolves command to an absolute path, hashes it, and asks the
// active snapshot for a decision. Never panics; every failure mode maps to
// a *ValidationError. On success it returns the resolved absolute path so
// the executor spawns the exact file that was evaluated, rather than
// re-running PATH resolution.
func (e *Engine) Validate(ctx context.Context, command string, args []string, env map[string]string) (string, error) {
	snap := e.snapshot.Load()
	if snap == nil || snap.Mode == ModeDenyAll {
		reason := "no policy loaded"
		if snap != nil {
			reason = snap.DenyReason
		}
		return "", errPolicyUnavailable(reason)
	}

	path, err := resolveExecutable(command)
	if err != nil {
		return "", errPathResolutionFailed(command, err.Error())
	}

	hash := hashFile(path)

	input := EvaluationInput{
		Command: command,
		Path:    path,
		Hash:    hash,
		Args:    args,
		Env:     env,
	}

	allow, err := snap.artifact.eval(ctx, input)
	if err != nil {
		return "", errPolicyEvaluationFailed(command, err.Error())
	}
	if !allow {
		return "", errCommandNotAllowed(command)
	}
	return path, nil
}

// Reload re-reads the policy directory and atomically swaps the snapshot.
func (e *Engine) Reload() error {
	e.reload(context.Background())
	return nil
}

func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func (e *Engine) reload(ctx context.Context) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	artifact, count, err := compileModules(ctx, e.dir)
	if err != nil {
		log.Error().Err(err).Str("dir", e.dir).Msg("policy reload failed, entering deny-all")
		e.installDenyAll(err.Error())
		return
	}

	handle := &artifactHandle{
		eval: func(ctx context.Context, in EvaluationInput) (bool, error) {
			return evalAllow(ctx, artifact, in)
		},
	}

	snap := &Snapshot{Mode: ModeLive, artifact: handle, ModuleCount: count}
	e.snapshot.Store(snap)
	log.Info().Int("modules", count).Msg("policy loaded")
}

func (e *Engine) installDenyAll(reason string) {
	e.snapshot.Store(&Snapshot{Mode: ModeDenyAll, DenyReason: reason})
}

func (e *Engine) handleChange(path string) {
	log.Info().Str("path", path).Msg("policy change detected")
	e.reload(context.Background())
}

// ModeForTest exposes the current mode; used by tests asserting the state
// machine without reaching into unexported fields directly.
func (e *Engine) ModeForTest() Mode {
	snap := e.snapshot.Load()
	if snap == nil {
		return ModeDenyAll
	}
	return snap.Mode
}
