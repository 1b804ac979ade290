package opensearch

import (
	"errors"
	"fmt"
)

// ErrAsyncNotSupported is returned when an operation that needs an immediate
// result receives a deferred one from an async client.
var ErrAsyncNotSupported = errors.New("async client returned a deferred result where an immediate one is required")

// ConfigError names a configuration key that is missing or invalid.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration key %q is missing or invalid", e.Key)
}

// MissingCertError is returned when the CA bundle is enabled but cannot be found or read.
type MissingCertError struct {
	Path string
	Err  error
}

func (e *MissingCertError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("CA certificate %q could not be read: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("CA certificate %q not found", e.Path)
}

func (e *MissingCertError) Unwrap() error { return e.Err }

// ResponseError carries a non-2xx engine reply back to the caller unchanged.
type ResponseError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an engine 404.
func IsNotFound(err error) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.StatusCode == 404
}
