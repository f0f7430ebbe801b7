package app

import "fmt"

// ConfigurationError is fatal and surfaced at startup: a duplicate
// component name, or a stop-after edge naming an unregistered component
// (spec.md §4.4, §7).
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "ipapp: configuration error: " + e.Message }

func newConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// PrepareError is fatal and wraps a per-component preparation (or start)
// failure with the attempt count (spec.md §7). Attempt is always 1 today;
// the field exists because the original system retries component
// preparation under transient infrastructure failures and callers may want
// to log how many attempts were made even though this runtime does not
// itself retry prepare/start — it fails fast, per spec.md §4.4's "fatal"
// language, and leaves retrying to the process supervisor.
type PrepareError struct {
	Component string
	Attempt   int
	Cause     error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("ipapp: component %q failed to prepare (attempt %d): %v", e.Component, e.Attempt, e.Cause)
}

func (e *PrepareError) Unwrap() error { return e.Cause }

// GracefulExit is a control signal, not a failure: Run() uses it to unwind
// cleanly when asked to stop before or during Start.
type GracefulExit struct{}

func (GracefulExit) Error() string { return "ipapp: graceful exit requested" }
