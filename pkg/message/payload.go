package message

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates message payloads.
type Kind string

const (
	KindStateUpdate   Kind = "stateUpdate"
	KindManualUpdate  Kind = "manualUpdate"
	KindOpenOptions   Kind = "options"
	KindPartialUpdate Kind = "contentScriptStateUpdate"
	KindEvaluateRule  Kind = "evaluateRule"
)

// Payload is implemented by every typed message body.
type Payload interface {
	Kind() Kind
	isPayload()
}

// StateUpdate carries the full snapshot after a change on the sender, stamped
// with the logical version it was written under.
type StateUpdate struct {
	Snapshot map[string]any `json:"snapshot"`
	Version  uint64         `json:"version,omitempty"`
	Origin   Role           `json:"origin,omitempty"`
}

// ManualUpdate asks the background to refresh remote selectors now.
type ManualUpdate struct{}

// OpenOptions asks the background to open the options surface.
type OpenOptions struct {
	Highlight string `json:"highlight,omitempty"`
}

// PartialUpdate asks the recipient to apply a partial snapshot and propagate it.
type PartialUpdate struct {
	Partial map[string]any `json:"partial"`
}

// EvaluateRule asks the recipient to evaluate an expression against its snapshot.
type EvaluateRule struct {
	Expr   string         `json:"expr"`
	Engine string         `json:"engine,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// Raw wraps a payload of a kind not known to this package.
type Raw struct {
	Type Kind
	Data json.RawMessage
}

func (StateUpdate) Kind() Kind   { return KindStateUpdate }
func (ManualUpdate) Kind() Kind  { return KindManualUpdate }
func (OpenOptions) Kind() Kind   { return KindOpenOptions }
func (PartialUpdate) Kind() Kind { return KindPartialUpdate }
func (EvaluateRule) Kind() Kind  { return KindEvaluateRule }
func (r Raw) Kind() Kind         { return r.Type }

func (StateUpdate) isPayload()   {}
func (ManualUpdate) isPayload()  {}
func (OpenOptions) isPayload()   {}
func (PartialUpdate) isPayload() {}
func (EvaluateRule) isPayload()  {}
func (Raw) isPayload()           {}

// MarshalJSON emits the raw bytes untouched.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r.Data) == 0 {
		return []byte("null"), nil
	}
	return r.Data, nil
}

// Decode narrows msg.Payload to the typed body for msg.Kind.
func Decode(msg Message) (Payload, error) {
	switch msg.Kind {
	case KindStateUpdate:
		var p StateUpdate
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.Snapshot == nil {
			p.Snapshot = map[string]any{}
		}
		return p, nil
	case KindManualUpdate:
		return ManualUpdate{}, nil
	case KindOpenOptions:
		var p OpenOptions
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindPartialUpdate:
		var p PartialUpdate
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindEvaluateRule:
		var p EvaluateRule
		if err := unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if p.Expr == "" {
			return nil, fmt.Errorf("message: %s requires expr", msg.Kind)
		}
		return p, nil
	case "":
		return nil, fmt.Errorf("message: missing type")
	default:
		return Raw{Type: msg.Kind, Data: append(json.RawMessage(nil), msg.Payload...)}, nil
	}
}

func unmarshal(msg Message, target any) error {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, target); err != nil {
		return fmt.Errorf("message: decode %s payload: %w", msg.Kind, err)
	}
	return nil
}
