// Command run-remote forwards a local invocation to a remote sandboxd
// broker and replays its output, per spec §4.5. Grounded on
// vanducng-goclaw/cmd/root.go for the cobra wiring style; Command's
// ArgsLenAtDash locates the mandatory "--" delimiter.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/runbroker/sandboxd/internal/remoteclient"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var keepEnvFlags []string

	cmd := &cobra.Command{
		Use:                "run-remote [--keep-env NAME[,NAME]...] -- <executable> [args...]",
		Short:              "Forward a local command invocation to a remote sandboxd broker",
		DisableFlagParsing: false,
		SilenceUsage:       true,
		SilenceErrors:      true,
	}
	cmd.Flags().StringArrayVar(&keepEnvFlags, "keep-env", nil, "local environment variable name(s) to forward, comma-separated or repeated")

	exitCode := remoteclient.LocalFailureExitCode
	cmd.RunE = func(c *cobra.Command, rawArgs []string) error {
		dash := c.ArgsLenAtDash()
		if dash < 0 {
			return fmt.Errorf("missing required `--` delimiter before remote executable")
		}

		// rawArgs[:dash] holds any positional tokens cobra did not recognize
		// as flags (e.g. "run-remote leftover -- echo hi"); --keep-env itself
		// was already consumed into keepEnvFlags, so anything left here is an
		// unrecognized pre-dash option and must be rejected per spec §4.5.
		if leftover := rawArgs[:dash]; len(leftover) > 0 {
			return fmt.Errorf("unknown option: %s", leftover[0])
		}

		command := rawArgs[dash:]
		parsed, err := remoteclient.ParseArgs(keepEnvToPreArgs(keepEnvFlags), command)
		if err != nil {
			return err
		}

		code, runErr := remoteclient.Run(context.Background(), http.DefaultClient, parsed, remoteclient.Options{
			ServerURLEnv: os.Getenv("RUN_REMOTE_SERVER"),
			Getenv:       os.LookupEnv,
			Getwd:        os.Getwd,
			Stdout:       os.Stdout,
			Stderr:       os.Stderr,
		})
		exitCode = code
		return runErr
	}
	cmd.Args = cobra.ArbitraryArgs

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "run-remote:", err)
		return exitCode
	}
	return exitCode
}

// keepEnvToPreArgs re-expands cobra's parsed --keep-env values back into
// the "--keep-env=value" token form remoteclient.ParseArgs expects, since
// cobra has already stripped the flags out of the pre-dash argument list.
func keepEnvToPreArgs(values []string) []string {
	preArgs := make([]string, 0, len(values))
	for _, v := range values {
		preArgs = append(preArgs, "--keep-env="+v)
	}
	return preArgs
}
