package executor

import (
	"os"
	"strings"
)

var proxyKeys = []string{"http_proxy", "https_proxy", "no_proxy"}

var strippedKeys = []string{
	"PATH",
	"http_proxy", "https_proxy", "no_proxy",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
}

// buildEnv implements the exact six-step recipe from spec §4.2. Order
// matters: caller overrides win over the broker's HOME/LANG, but the
// broker's PATH and proxy variables always win at the end, mirrored into
// both the lowercase and uppercase forms.
func buildEnv(callerEnv map[string]string) map[string]string {
	env := make(map[string]string)

	for _, k := range []string{"HOME", "LANG"} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}

	for k, v := range callerEnv {
		env[k] = v
	}

	for _, k := range strippedKeys {
		delete(env, k)
	}

	if v, ok := os.LookupEnv("PATH"); ok {
		env["PATH"] = v
	}

	for _, lower := range proxyKeys {
		upper := strings.ToUpper(lower)
		if v, ok := lookupEitherCase(lower, upper); ok {
			env[lower] = v
			env[upper] = v
		}
	}

	return env
}

func lookupEitherCase(lower, upper string) (string, bool) {
	if v, ok := os.LookupEnv(lower); ok {
		return v, true
	}
	if v, ok := os.LookupEnv(upper); ok {
		return v, true
	}
	return "", false
}

func envToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
