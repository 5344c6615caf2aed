package auth

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is a 401 that survived the single renewal and retry.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired means renewal was refused; the user has been sent to login.
	ErrSessionExpired = errors.New("session expired")
	ErrNoSession      = errors.New("no session cookie")
)

const maxErrorBody = 64 << 10

// TransportError is a network failure at any step of a request.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response other than 401. Body is the trimmed
// response text, suitable for showing to the user.
type ServerError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, e.Body)
}

// CheckResponse maps a final response onto the error taxonomy. It reads the
// body of failed responses but leaves closing it to the caller.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusUnauthorized {
		if text == "" {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, text)
	}
	return &ServerError{StatusCode: resp.StatusCode, Status: resp.Status, Body: text}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
