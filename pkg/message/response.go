package message

import (
	"encoding/json"
	"fmt"
)

const (
	// NoHandlerError is the failure text returned for unregistered kinds.
	NoHandlerError = "No handler found for message type"
	// StateUpdatedText acknowledges an applied state change.
	StateUpdatedText = "State updated successfully"
	// StaleStateError rejects a stateUpdate older than the receiver's
	// snapshot. The response Data carries the receiver's StateUpdate.
	StaleStateError = "Stale state version"
)

// Response is the structured reply a handler sends back to the sender.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK builds a successful response.
func OK(text string) Response {
	return Response{Success: true, Message: text}
}

// Fail builds a failed response from err.
func Fail(err error) Response {
	if err == nil {
		return Response{Success: false}
	}
	return Response{Success: false, Error: err.Error()}
}

// Failf builds a failed response from a formatted string.
func Failf(format string, args ...any) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of r carrying v encoded as JSON.
func (r Response) WithData(v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("message: encode response data: %w", err)
	}
	r.Data = raw
	return r, nil
}

// DecodeData unmarshals Data into target.
func (r Response) DecodeData(target any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, target); err != nil {
		return fmt.Errorf("message: decode response data: %w", err)
	}
	return nil
}
