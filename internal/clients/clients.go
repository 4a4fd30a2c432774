// Package clients holds the HTTP clients for the external model services:
// speech-to-text, pose/face detection, emotion classification, and the
// generative coaching backend. Each capability is exposed as a small
// interface so analyzers can be tested against fakes.
package clients

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type HTTP struct{ c *http.Client }

func NewHTTP() *HTTP { return &HTTP{c: &http.Client{Timeout: 60 * time.Second}} }

// ErrUnavailable marks failures where the backend could not be reached or
// answered with a server error. Rejected requests and undecodable
// responses are not marked: retrying those cannot help.
var ErrUnavailable = errors.New("backend unavailable")

// IsTransient reports whether err is a failure a single retry may resolve.
func IsTransient(err error) bool { return errors.Is(err, ErrUnavailable) }

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// statusErr builds the error for a non-200 response. Server errors carry
// the unavailable mark, client errors do not.
func statusErr(service string, statusCode int, status, body string) error {
	err := fmt.Errorf("%s %s: %s", service, status, body)
	if statusCode >= http.StatusInternalServerError {
		err = unavailable(err)
	}
	return err
}
