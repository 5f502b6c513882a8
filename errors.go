package replica

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-replica/pkg/message"
)

var (
	// ErrNoHandler is wrapped by HandlerError when no handler is registered
	// for an addressed kind.
	ErrNoHandler = errors.New(message.NoHandlerError)
	// ErrClosed reports use of a closed replica.
	ErrClosed = errors.New("replica: closed")
)

// PersistenceError reports a failed store read or write. The in-memory
// snapshot is not rolled back; it stays ahead of storage until the next
// successful write. The exception is a write the store keeps rejecting as
// stale: the replica then adopts the stored snapshot before returning.
type PersistenceError struct {
	Role message.Role
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("replica: %s store %s: %v", e.Role, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError reports a failed send to one peer.
type TransportError struct {
	Role message.Role
	Peer message.Role
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("replica: %s -> %s: %v", e.Role, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HandlerError reports a failed or panicking message handler.
type HandlerError struct {
	Role  message.Role
	Kind  message.Kind
	Err   error
	Panic any
}

func (e *HandlerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Panic != nil {
		return fmt.Sprintf("replica: %s handler %q panicked: %v", e.Role, e.Kind, e.Panic)
	}
	return fmt.Sprintf("replica: %s handler %q: %v", e.Role, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
