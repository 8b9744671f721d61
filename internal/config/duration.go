package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file (http timeouts, smtp.timeout,
// consumer retry/lease windows, maintenance.retention) are Go duration
// strings. The helpers below are the single place they are parsed, so
// every section reports bad values the same way: by field path.

// ParseDurationField parses a duration string. Empty means unset and
// parses to 0; negative durations are rejected, no section wants one.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset fields, used where a component carries its own default (e.g.
// smtp.timeout).
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
