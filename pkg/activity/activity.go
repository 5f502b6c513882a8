// Package activity reports settings lifecycle changes to audit hooks.
//
// A replica emits one Event per changing update: settings.updated for local
// writes, settings.synced for snapshots applied from a peer and
// settings.reset for ResetToDefault.
package activity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// Settings verbs.
const (
	VerbSettingsUpdated = "settings.updated"
	VerbSettingsSynced  = "settings.synced"
	VerbSettingsReset   = "settings.reset"
)

// ObjectType is the audit object type of every event.
const ObjectType = "settings"

// Event is one settings change as seen by a single role.
type Event struct {
	Verb string
	// ActorID identifies who caused the change: a user UUID when known,
	// otherwise the installation or role.
	ActorID  string
	TenantID string
	// Namespace is the store namespace and doubles as the audit object ID.
	Namespace   string
	Channel     string
	Role        string
	Origin      string
	Version     uint64
	SnapshotID  string
	ChangedKeys []string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// Fields flattens the replication details and Metadata into one map.
// Explicit fields win over Metadata entries with the same name.
func (e Event) Fields() map[string]any {
	out := make(map[string]any, len(e.Metadata)+5)
	for key, value := range e.Metadata {
		out[key] = value
	}
	if e.Role != "" {
		out["role"] = e.Role
	}
	if e.Origin != "" {
		out["origin"] = e.Origin
	}
	if e.Version > 0 {
		out["version"] = e.Version
	}
	if e.SnapshotID != "" {
		out["snapshot_id"] = e.SnapshotID
	}
	if len(e.ChangedKeys) > 0 {
		out["changed_keys"] = slices.Clone(e.ChangedKeys)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalize trims identifiers, copies slices and maps, and fills the
// namespace and timestamp.
func (e Event) normalize(now func() time.Time) Event {
	e.Verb = strings.TrimSpace(e.Verb)
	e.ActorID = strings.TrimSpace(e.ActorID)
	e.TenantID = strings.TrimSpace(e.TenantID)
	e.Namespace = strings.TrimSpace(e.Namespace)
	e.Channel = strings.TrimSpace(e.Channel)
	if e.Namespace == "" {
		e.Namespace = ObjectType
	}
	e.ChangedKeys = slices.Clone(e.ChangedKeys)
	if len(e.Metadata) > 0 {
		meta := make(map[string]any, len(e.Metadata))
		for key, value := range e.Metadata {
			meta[key] = value
		}
		e.Metadata = meta
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now()
	}
	return e
}

// Hook receives normalized events.
type Hook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, event Event) error

// Notify calls fn.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks notifies every hook in order. Events without a verb are dropped;
// hook failures are joined.
type Hooks []Hook

// Notify implements Hook.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	event = event.normalize(time.Now)
	if event.Verb == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
