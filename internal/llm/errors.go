package llm

import (
	"errors"
	"fmt"
)

// UnavailableError means the endpoint could not produce a completion right now:
// network failure, timeout, or a non-2xx response other than an auth failure.
// Callers should treat it as retryable.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("llm unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ConfigError means the client is misconfigured (missing/invalid API key or
// model). Retrying per item cannot help; the whole run should abort.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm config: %s: %v", e.Reason, e.Err)
	}
	return "llm config: " + e.Reason
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is fatal to the run rather than retryable.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
