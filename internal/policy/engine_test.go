package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const allowTruePolicy = `package sandbox.main

default allow := false

allow if {
	input.command == "true"
}
`

const allowNothingPolicy = `package sandbox.main

default allow := false
`

const brokenPolicy = `package sandbox.main

default allow := fals
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEngineDenyAllOnMissingDir(t *testing.T) {
	engine, err := NewEngine(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("NewEngine must never fail construction: %v", err)
	}
	defer engine.Close()

	_, err = engine.Validate(context.Background(), "true", nil, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Kind != KindPolicyUnavailable {
		t.Fatalf("expected PolicyUnavailable, got %v", err)
	}
}

func TestEngineDenyAllOnEmptyDir(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatalf("NewEngine must never fail construction: %v", err)
	}
	defer engine.Close()

	if engine.ModeForTest() != ModeDenyAll {
		t.Fatal("expected deny-all with no policy files present")
	}
}

func TestEngineAllowsMatchingCommand(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "main.rego", allowTruePolicy)

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if engine.ModeForTest() != ModeLive {
		t.Fatal("expected live mode after loading a valid policy")
	}

	truePath, err := resolveExecutable("true")
	if err != nil {
		t.Skipf("no 'true' binary on PATH in this environment: %v", err)
	}
	_ = truePath

	if _, err := engine.Validate(context.Background(), "true", nil, nil); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestEngineDeniesNonMatchingCommand(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "main.rego", allowNothingPolicy)

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := resolveExecutable("true"); err != nil {
		t.Skip("no 'true' binary on PATH")
	}

	_, err = engine.Validate(context.Background(), "true", nil, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Kind != KindCommandNotAllowed {
		t.Fatalf("expected CommandNotAllowed, got %v", err)
	}
}

func TestEngineHotReloadTransitionsToDenyAllAndBack(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "main.rego", allowTruePolicy)

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := resolveExecutable("true"); err != nil {
		t.Skip("no 'true' binary on PATH")
	}

	if _, err := engine.Validate(context.Background(), "true", nil, nil); err != nil {
		t.Fatalf("expected initial allow, got %v", err)
	}

	if err := os.WriteFile(path, []byte(brokenPolicy), 0644); err != nil {
		t.Fatal(err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatal(err)
	}

	_, err = engine.Validate(context.Background(), "true", nil, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Kind != KindPolicyUnavailable {
		t.Fatalf("expected PolicyUnavailable after broken reload, got %v", err)
	}

	if err := os.WriteFile(path, []byte(allowTruePolicy), 0644); err != nil {
		t.Fatal(err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Validate(context.Background(), "true", nil, nil); err != nil {
		t.Fatalf("expected allow after restoring policy, got %v", err)
	}
}

func TestEngineHashMatchPolicy(t *testing.T) {
	dir := t.TempDir()

	truePath, err := resolveExecutable("true")
	if err != nil {
		t.Skip("no 'true' binary on PATH")
	}
	hash := hashFile(truePath)

	policyContent := `package sandbox.main

default allow := false

allow if {
	input.hash == "` + hash + `"
}
`
	writePolicy(t, dir, "main.rego", policyContent)

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if _, err := engine.Validate(context.Background(), "true", nil, nil); err != nil {
		t.Fatalf("expected allow on matching hash, got %v", err)
	}

	mismatchPolicy := `package sandbox.main

default allow := false

allow if {
	input.hash == "0000000000000000000000000000000000000000000000000000000000000000"
}
`
	writePolicy(t, dir, "main.rego", mismatchPolicy)
	if err := engine.Reload(); err != nil {
		t.Fatal(err)
	}

	_, err = engine.Validate(context.Background(), "true", nil, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Kind != KindCommandNotAllowed {
		t.Fatalf("expected CommandNotAllowed on mismatched hash, got %v", err)
	}
}

func TestEngineReloadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "main.rego", allowTruePolicy)

	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	if err := engine.Reload(); err != nil {
		t.Fatal(err)
	}
	mode1 := engine.ModeForTest()
	if err := engine.Reload(); err != nil {
		t.Fatal(err)
	}
	mode2 := engine.ModeForTest()

	if mode1 != mode2 || mode1 != ModeLive {
		t.Fatalf("expected stable live mode across idempotent reloads, got %v then %v", mode1, mode2)
	}
}

func TestResolutionPreservesSymlinks(t *testing.T) {
	dir := t.TempDir()
	realDir := filepath.Join(dir, "real")
	if err := os.Mkdir(realDir, 0755); err != nil {
		t.Fatal(err)
	}
	realBin := filepath.Join(realDir, "real-cargo")
	if err := os.WriteFile(realBin, []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}

	linkDir := filepath.Join(dir, "bin")
	if err := os.Mkdir(linkDir, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(linkDir, "cargo")
	if err := os.Symlink(realBin, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	oldPath := os.Getenv("PATH")
	defer os.Setenv("PATH", oldPath)
	os.Setenv("PATH", linkDir)

	resolved, err := resolveExecutable("cargo")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != link {
		t.Errorf("expected resolution to preserve the link path %s, got %s", link, resolved)
	}
}
