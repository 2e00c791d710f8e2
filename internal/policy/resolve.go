package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// resolveExecutable implements the §4.1 resolution algorithm: a literal
// path (absolute or relative to the process cwd) if command contains a
// path separator, otherwise a PATH search that stops at the first regular,
// executable entry. Symlinks are preserved, never canonicalized.
func resolveExecutable(command string) (string, error) {
	if strings.ContainsRune(command, os.PathSeparator) {
		abs, err := filepath.Abs(command)
		if err != nil {
			return "", err
		}
		if !isRegularExecutable(abs) {
			return "", errNotExecutable(command)
		}
		return abs, nil
	}

	pathEnv := os.Getenv("PATH")
	if pathEnv == "" {
		return "", errPathUnset(command)
	}

	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		if isRegularExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", errNotFoundOnPath(command)
}

func isRegularExecutable(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		info, err = os.Stat(path)
		if err != nil {
			return false
		}
	}
	if !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func errNotExecutable(command string) error {
	return &resolveError{command: command, reason: "not a regular executable file"}
}

func errPathUnset(command string) error {
	return &resolveError{command: command, reason: "PATH is unset"}
}

func errNotFoundOnPath(command string) error {
	return &resolveError{command: command, reason: "not found on PATH"}
}

type resolveError struct {
	command string
	reason  string
}

func (e *resolveError) Error() string { return e.reason }

// hashFile computes the lowercase hex SHA-256 of path's contents. On any
// read error it returns the empty string and lets the policy decide.
func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
