// Package remoteclient implements the CLI grammar, env forwarding, and
// stream replay logic for the remote replay client described in spec §4.5.
// It is deliberately cobra-agnostic: cmd/run-remote wires this package to
// cobra's ArgsLenAtDash for the mandatory "--" delimiter.
package remoteclient

import (
	"fmt"
	"strings"
)

// ParsedArgs is the result of splitting a run-remote invocation into its
// --keep-env accumulator and the remote executable + arguments.
type ParsedArgs struct {
	KeepEnv    []string
	Executable string
	Args       []string
}

// ParseArgs implements spec §4.5's grammar:
// [--keep-env NAME[,NAME]* | --keep-env=...]* -- <executable> <args...>
// preArgs is everything before the mandatory "--"; command is everything
// after it. Grounded on original_source/mcp-run/src/remote.rs::parse_args.
func ParseArgs(preArgs, command []string) (ParsedArgs, error) {
	keepEnv, err := parseKeepEnvFlags(preArgs)
	if err != nil {
		return ParsedArgs{}, err
	}

	if len(command) == 0 {
		return ParsedArgs{}, fmt.Errorf("missing remote executable after --")
	}

	return ParsedArgs{
		KeepEnv:    keepEnv,
		Executable: command[0],
		Args:       command[1:],
	}, nil
}

func parseKeepEnvFlags(preArgs []string) ([]string, error) {
	var keepEnv []string
	seen := make(map[string]struct{})

	i := 0
	for i < len(preArgs) {
		arg := preArgs[i]
		switch {
		case strings.HasPrefix(arg, "--keep-env="):
			appendKeepEnv(strings.TrimPrefix(arg, "--keep-env="), &keepEnv, seen)
			i++
		case arg == "--keep-env":
			if i+1 >= len(preArgs) {
				return nil, fmt.Errorf("missing value for --keep-env")
			}
			appendKeepEnv(preArgs[i+1], &keepEnv, seen)
			i += 2
		default:
			return nil, fmt.Errorf("unknown option: %s", arg)
		}
	}

	return keepEnv, nil
}

func appendKeepEnv(value string, keepEnv *[]string, seen map[string]struct{}) {
	for _, name := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		*keepEnv = append(*keepEnv, trimmed)
	}
}

// CollectForwardedEnv looks up each keep-env name via lookup, failing with
// the full list of missing names, in keep-env order, if any are unset
// (spec §4.5 step 2).
func CollectForwardedEnv(keepEnv []string, lookup func(name string) (string, bool)) (map[string]string, error) {
	env := make(map[string]string)
	var missing []string

	for _, name := range keepEnv {
		if value, ok := lookup(name); ok {
			env[name] = value
		} else {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("local environment variable(s) are not set: %s", strings.Join(missing, ", "))
	}
	return env, nil
}
