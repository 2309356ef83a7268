package airflow

import "fmt"

// AuthError indicates the token exchange itself failed: the token endpoint
// was unreachable or rejected the configured service credentials. It is a
// hard failure and is never retried at this layer.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("airflow authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// UpstreamError carries a non-2xx Airflow response verbatim so the caller
// can surface the raw payload to the UI.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("airflow returned status %d: %s", e.Status, e.Body)
}
