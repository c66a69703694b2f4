package sentinel

import "fmt"

// ConfigurationError means provider credentials or endpoints are missing.
// Fatal for the call, never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "sentinel configuration: " + e.Reason
}

// TransportError is a network failure or non-2xx response from the
// provider. Triggers the fallback chain.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sentinel %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("sentinel %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EmptyResultError means the catalog returned no scene that survived
// filtering. Triggers the fallback chain.
type EmptyResultError struct {
	Detail string
}

func (e *EmptyResultError) Error() string {
	return "sentinel catalog: no qualifying scenes: " + e.Detail
}
