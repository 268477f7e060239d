package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameter is returned when a required request field is empty.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrStartupConfiguration is returned when the process cannot be configured
	// to reach the push provider.
	ErrStartupConfiguration = errors.New("startup configuration error")
)

// QueryError reports a failed data store query.
type QueryError struct {
	Relation string
	// Status is the upstream HTTP status, or 0 when no response was received.
	Status int
	Body   []byte
	Err    error
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("query %s failed with status %d: %s", e.Relation, e.Status, string(e.Body))
	}
	return fmt.Sprintf("query %s failed: %v", e.Relation, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Detail returns what the upstream reported: the response body when there is
// one, otherwise the transport error.
func (e *QueryError) Detail() string {
	if len(e.Body) > 0 {
		return string(e.Body)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// DispatchError wraps a push provider failure.
type DispatchError struct {
	Cause error
}

func (e *DispatchError) Error() string {
	return e.Cause.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}
