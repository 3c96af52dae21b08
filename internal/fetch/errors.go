package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetch client.
var (
	// ErrNotFound indicates the remote file does not exist. It is not retried.
	ErrNotFound = errors.New("remote file not found")

	// ErrNoLinks indicates the listing page had no dump archives.
	ErrNoLinks = errors.New("no dump archives in listing")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// IsNotFound returns true if the error indicates a missing remote file.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404
	}
	return false
}
