package config

import (
	"os"
	"strings"
)

// ResolveHostname determines the hostname reported to HQ using the following priority:
// 1. the configured override (if set)
// 2. os.Hostname() (if successful)
// 3. "host-unknown" (fallback)
//
// AGENT_HOSTNAME reaches the override through Load, like every other setting.
func ResolveHostname(override string) string {
	if h := strings.TrimSpace(override); h != "" {
		return h
	}

	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}

	return "host-unknown"
}
