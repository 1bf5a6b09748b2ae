package executor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrBlocked matches any BlockedError via errors.Is.
var ErrBlocked = errors.New("target is blocking automated access")

// StatusError is a response outside 2xx/3xx, or a proxy that refused the
// CONNECT tunnel with a status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d %s", e.Code, e.Status)
}

// BlockedError ends a request whose rotation budget went to 403s. The target,
// not the proxies, is the likely cause.
type BlockedError struct {
	URL       string
	Rotations int
	Err       error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s is temporarily blocking automated access: still 403 after rotating %d proxies, try again later", e.URL, e.Rotations)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

func (e *BlockedError) Unwrap() error {
	return e.Err
}

// ExhaustedError ends a pooled request whose attempt budget ran out and whose
// direct fallback also failed. Err is the last pooled failure, never the
// direct one.
type ExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("network-level failure for %s after %d attempts, check the proxy inventory: %v", e.URL, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status behind err, or 0 for network errors.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// tunnelStatus recovers the status of a failed CONNECT. net/http reports it
// as a bare status text, e.g. "Proxy Authentication Required".
func tunnelStatus(err error) int {
	msg := err.Error()
	for _, code := range []int{http.StatusProxyAuthRequired, http.StatusForbidden} {
		if strings.Contains(msg, http.StatusText(code)) {
			return code
		}
	}
	return 0
}
