package network

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is wrapped in ErrNetworkUnavailable when a send is attempted
// while the session is not synced.
var ErrNotConnected = errors.New("not connected")

// ErrConnectionClosedByServer is returned when the server closes the connection
type ErrConnectionClosedByServer struct{}

func (e *ErrConnectionClosedByServer) Error() string {
	return "connection closed by server"
}

// ErrConnectionClosedByClient is returned when the session itself closed the connection
type ErrConnectionClosedByClient struct{}

func (e *ErrConnectionClosedByClient) Error() string {
	return "connection closed by client"
}

// ErrNetworkUnavailable is a transient failure; the session retries with backoff.
type ErrNetworkUnavailable struct {
	Err error
}

func (e *ErrNetworkUnavailable) Error() string {
	return fmt.Sprintf("network unavailable: %v", e.Err)
}

func (e *ErrNetworkUnavailable) Unwrap() error {
	return e.Err
}

func IsNetworkUnavailable(err error) bool {
	var target *ErrNetworkUnavailable
	return errors.As(err, &target)
}

// ErrAuthRejected means the server refused the credentials. It is not retried.
type ErrAuthRejected struct {
	Reasons []string
}

func (e *ErrAuthRejected) Error() string {
	return fmt.Sprintf("connection refused by server: %s", strings.Join(e.Reasons, ", "))
}

func IsAuthRejected(err error) bool {
	var target *ErrAuthRejected
	return errors.As(err, &target)
}
