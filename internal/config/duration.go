package config

import (
	"fmt"
	"strings"
	"time"
)

// ShutdownGrace is how long serve waits for in-flight API requests on exit.
func (h HTTPConfig) ShutdownGrace() time.Duration {
	d, _ := durationOr("http.shutdown_timeout", h.ShutdownTimeout, 5*time.Second)
	return d
}

// Timeout is the per-attempt deadline applied to tasks without their own.
func (d DispatchConfig) Timeout() time.Duration {
	t, _ := durationOr("dispatch.default_timeout", d.DefaultTimeout, 60*time.Second)
	return t
}

// durationOr parses a config duration string. Empty or zero yields def;
// negative or malformed values are an error naming the field.
func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", field, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative", field)
	case d == 0:
		return def, nil
	}
	return d, nil
}
