// Package message defines the addressed envelope exchanged between replicas,
// the closed set of roles that can send and receive it, and the typed payloads
// carried for each message kind.
//
// Wire shape:
//
//	{"id":"…","type":"stateUpdate","payload":{…},"sentFrom":"ui","sentTo":"background"}
//
// Payloads travel as raw JSON inside the envelope and are narrowed per kind by
// Decode, which switches exhaustively over the built-in kinds and falls back to
// Raw for kinds registered by callers.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotIntendedRecipient is returned by a handler that saw a message
	// addressed to another role. Transports must not forward a response for it.
	ErrNotIntendedRecipient = errors.New("message: not intended recipient")
	// ErrNoReceiver reports that a transport found nobody listening.
	ErrNoReceiver = errors.New("message: receiving end does not exist")
	// ErrNoResponse reports that every receiver suppressed its response.
	ErrNoResponse = errors.New("message: port closed before a response was received")
)

// Role identifies one of the three execution contexts holding a replica.
type Role string

const (
	RoleBackground Role = "background"
	RoleUI         Role = "ui"
	RolePage       Role = "page"
)

// Roles lists every role in rank order.
func Roles() []Role {
	return []Role{RoleBackground, RoleUI, RolePage}
}

// ParseRole validates and normalizes a role name. The legacy names "popup"
// and "content" map to ui and page.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "background":
		return RoleBackground, nil
	case "ui", "popup":
		return RoleUI, nil
	case "page", "content":
		return RolePage, nil
	default:
		return "", fmt.Errorf("message: unknown role %q", value)
	}
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleBackground || r == RoleUI || r == RolePage
}

// Rank orders roles for deterministic tie breaking.
func (r Role) Rank() int {
	switch r {
	case RoleBackground:
		return 3
	case RoleUI:
		return 2
	case RolePage:
		return 1
	default:
		return 0
	}
}

// Peers returns the roles r broadcasts to.
func (r Role) Peers() []Role {
	switch r {
	case RoleBackground:
		return []Role{RoleUI, RolePage}
	case RoleUI:
		return []Role{RolePage, RoleBackground}
	case RolePage:
		return []Role{RoleUI, RoleBackground}
	default:
		return nil
	}
}

// Message is the addressed envelope.
type Message struct {
	ID       string          `json:"id,omitempty"`
	Kind     Kind            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentFrom Role            `json:"sentFrom"`
	SentTo   Role            `json:"sentTo"`
}

// New encodes payload into an envelope addressed from -> to.
func New(from, to Role, payload Payload) (Message, error) {
	if payload == nil {
		return Message{}, fmt.Errorf("message: payload is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("message: encode %s payload: %w", payload.Kind(), err)
	}
	return Message{
		ID:       uuid.NewString(),
		Kind:     payload.Kind(),
		Payload:  raw,
		SentFrom: from,
		SentTo:   to,
	}, nil
}

// Readdress returns a copy of msg with a new ID and recipient.
func (m Message) Readdress(to Role) Message {
	out := m
	out.ID = uuid.NewString()
	out.SentTo = to
	if len(m.Payload) > 0 {
		out.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	return out
}

// AddressedTo reports whether the message targets role.
func (m Message) AddressedTo(role Role) bool {
	return m.SentTo == role
}

// Sender describes where an inbound message came from.
type Sender struct {
	Role Role
	// ID identifies the sending endpoint on the bus (connection or listener).
	ID string
}

// Handler services one inbound message. Returning ErrNotIntendedRecipient
// suppresses the response.
type Handler func(ctx context.Context, msg Message, sender Sender) (Response, error)

// Transport delivers an addressed message and waits for the response.
type Transport interface {
	Send(ctx context.Context, msg Message) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) (Response, error)

// Send implements Transport.
func (fn TransportFunc) Send(ctx context.Context, msg Message) (Response, error) {
	return fn(ctx, msg)
}
