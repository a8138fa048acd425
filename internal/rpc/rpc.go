// Package rpc layers request/response calls over the publish/subscribe bus.
//
// A request is published on "rpc.<pattern>" with a fresh correlation id and the caller's
// reply topic. The server publishes exactly one reply carrying the same correlation id;
// the caller resolves only the pending call with that id, so concurrent calls of the same
// pattern never see each other's replies.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTimeout is returned when no matching reply arrives before the call deadline.
var ErrTimeout = errors.New("rpc: timed out waiting for reply")

// RequestTopic returns the bus topic carrying requests for pattern.
func RequestTopic(pattern string) string {
	return "rpc." + pattern
}

// ReplyTopic returns the reply topic owned by one client instance.
func ReplyTopic(instanceID string) string {
	return "rpc.reply." + instanceID
}

// reply is the wire shape of every response.
type reply struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RemoteError    `json:"error,omitempty"`
}

// RemoteError is a failure reported by the handler on the other side of the call.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %s: %s", e.Code, e.Message)
}

// Errorf returns a RemoteError with the given code for handlers to return.
func Errorf(code, format string, args ...any) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a RemoteError with code.
func IsCode(err error, code string) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}
