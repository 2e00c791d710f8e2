package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.sandbox.main.allow"

// compileModules walks dir recursively, loads every *.rego file in
// lexicographic order, and compiles them into a single prepared query at
// allowQuery. Returns the number of modules compiled.
func compileModules(ctx context.Context, dir string) (*rego.PreparedEvalQuery, int, error) {
	paths, err := collectModulePaths(dir)
	if err != nil {
		return nil, 0, err
	}
	if len(paths) == 0 {
		return nil, 0, fmt.Errorf("no policy modules found under %s", dir)
	}

	opts := []func(*rego.Rego){rego.Query(allowQuery)}
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", p, err)
		}
		opts = append(opts, rego.Module(p, string(src)))
	}

	r := rego.New(opts...)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("compile %d modules: %w", len(paths), err)
	}

	return &prepared, len(paths), nil
}

func collectModulePaths(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".rego") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// evalAllow runs the compiled artifact against input, returning the three
// outcomes the §4.1 contract describes: (true, nil) for allow, (false, nil)
// for a clean deny, and (false, err) for a runtime evaluation failure.
func evalAllow(ctx context.Context, artifact *rego.PreparedEvalQuery, input EvaluationInput) (bool, error) {
	rs, err := artifact.Eval(ctx, rego.EvalInput(input.toRegoInput()))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allow, nil
}
