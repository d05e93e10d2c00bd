package provider

import "fmt"

// AuthenticationError means the provider rejected our credentials. Fatal
// for the run; never auto-retried.
type AuthenticationError struct {
	Provider string
	Detail   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("provider %s: authentication failed: %s", e.Provider, e.Detail)
}

// ConnectivityError means the provider could not be reached or answered
// with a server failure. Aborts the current run; the scheduler retries on
// the next tick.
type ConnectivityError struct {
	Provider string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("provider %s: unreachable: %v", e.Provider, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
