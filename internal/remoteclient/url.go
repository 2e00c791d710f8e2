package remoteclient

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveServerURL validates RUN_REMOTE_SERVER: it must be a full
// http(s):// URL with a host, per spec §4.5 step 1.
func ResolveServerURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("RUN_REMOTE_SERVER must be set")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("RUN_REMOTE_SERVER must be a full URL (example: http://127.0.0.1:8000/raw)")
	}

	return trimmed, nil
}
