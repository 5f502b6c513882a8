// Package hydrate turns loosely typed snapshot maps into typed structs by
// round-tripping them through encoding/json.
package hydrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Source names the snapshot being decoded.
type Source struct {
	Namespace string
	Role      string
}

// Stage is the decode phase an error came from.
type Stage string

const (
	StageInput  Stage = "input"
	StageBefore Stage = "before"
	StageDecode Stage = "decode"
	StageAfter  Stage = "after"
)

// Error reports where a decode failed.
type Error struct {
	Source Source
	Stage  Stage
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hydrate %s: %s: %v", e.Source.Namespace, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Rewrite receives a private copy of the payload and returns the map to
// decode. Returning nil keeps the copy.
type Rewrite func(Source, map[string]any) (map[string]any, error)

// Check runs on the decoded value.
type Check[T any] func(Source, *T) error

// Decoder is configured by its fields and is safe for concurrent use once
// built.
type Decoder[T any] struct {
	// Base is decoded over, so keys missing from the payload keep its values.
	// The zero T is used when nil.
	Base   func() T
	Before []Rewrite
	After  []Check[T]
	// Strict rejects keys that T does not declare.
	Strict bool
}

// Decode converts payload into T.
func (d Decoder[T]) Decode(src Source, payload map[string]any) (T, error) {
	var out T
	fail := func(stage Stage, err error) (T, error) {
		var zero T
		return zero, &Error{Source: src, Stage: stage, Err: err}
	}
	if payload == nil {
		return fail(StageInput, errors.New("nil payload"))
	}

	for _, rewrite := range d.Before {
		next, err := rewrite(src, maps.Clone(payload))
		if err != nil {
			return fail(StageBefore, err)
		}
		if next != nil {
			payload = next
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fail(StageInput, err)
	}
	if d.Base != nil {
		out = d.Base()
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if d.Strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return fail(StageDecode, err)
	}

	for _, check := range d.After {
		if err := check(src, &out); err != nil {
			return fail(StageAfter, err)
		}
	}
	return out, nil
}
