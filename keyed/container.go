// Package keyed provides an in-memory snapshot store whose subscribers are
// notified per key.
//
// Subscribers receive the current snapshot immediately when they subscribe, so
// consumers never need a separate initial read. Change detection uses identity
// semantics (see snapshot.Same): replace nested values rather than mutating
// them in place, otherwise the change goes unnoticed.
package keyed

import (
	"sort"
	"sync"

	"github.com/goliatone/go-replica/snapshot"
)

// Callback receives a copy of the snapshot after a relevant change.
type Callback func(state snapshot.Snapshot)

type subscription struct {
	fn Callback
}

// Container is a keyed, subscribable snapshot store. It is safe for
// concurrent use; callbacks run outside the internal lock and may call back
// into the container.
type Container struct {
	mu       sync.RWMutex
	state    snapshot.Snapshot
	previous snapshot.Snapshot
	keyed    map[string]map[*subscription]struct{}
	anyOrder []*subscription
	order    []*subscription
}

// New constructs a container seeded with a shallow copy of initial.
func New(initial snapshot.Snapshot) *Container {
	return &Container{
		state:    snapshot.Clone(initial),
		previous: snapshot.Clone(initial),
		keyed:    map[string]map[*subscription]struct{}{},
	}
}

// Subscribe registers fn for changes to any of keys, invokes it once with the
// current snapshot and returns a function that removes it from every key.
func (c *Container) Subscribe(keys []string, fn Callback) func() {
	if fn == nil {
		return func() {}
	}
	sub := &subscription{fn: fn}
	unique := dedupe(keys)

	c.mu.Lock()
	for _, key := range unique {
		set, ok := c.keyed[key]
		if !ok {
			set = map[*subscription]struct{}{}
			c.keyed[key] = set
		}
		set[sub] = struct{}{}
	}
	c.order = append(c.order, sub)
	current := snapshot.Clone(c.state)
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for _, key := range unique {
				set, ok := c.keyed[key]
				if !ok {
					continue
				}
				delete(set, sub)
				if len(set) == 0 {
					delete(c.keyed, key)
				}
			}
			c.order = without(c.order, sub)
		})
	}
}

// SubscribeAny registers fn for every change regardless of key, invokes it once
// with the current snapshot and returns its unsubscribe function.
func (c *Container) SubscribeAny(fn Callback) func() {
	if fn == nil {
		return func() {}
	}
	sub := &subscription{fn: fn}

	c.mu.Lock()
	c.anyOrder = append(c.anyOrder, sub)
	current := snapshot.Clone(c.state)
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.anyOrder = without(c.anyOrder, sub)
		})
	}
}

// Update applies partial and returns the keys whose value changed, sorted. When
// at least one key changed every any-change subscriber runs once, then every
// key subscriber runs once even when subscribed under several changed keys.
func (c *Container) Update(partial snapshot.Snapshot) []string {
	c.mu.Lock()
	changed := make([]string, 0, len(partial))
	for key, value := range partial {
		if snapshot.Same(c.state[key], value) {
			continue
		}
		c.state[key] = value
		changed = append(changed, key)
	}
	sort.Strings(changed)

	var notify []*subscription
	if len(changed) > 0 {
		notify = append(notify, c.anyOrder...)
		notified := make(map[*subscription]struct{}, len(c.order))
		for _, key := range changed {
			for sub := range c.keyed[key] {
				notified[sub] = struct{}{}
			}
		}
		// subscription order keeps delivery deterministic
		for _, sub := range c.order {
			if _, ok := notified[sub]; ok {
				notify = append(notify, sub)
			}
		}
	}
	current := snapshot.Clone(c.state)
	c.previous = snapshot.Clone(c.state)
	c.mu.Unlock()

	for _, sub := range notify {
		sub.fn(snapshot.Clone(current))
	}
	return changed
}

// State returns a shallow copy of the current snapshot.
func (c *Container) State() snapshot.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshot.Clone(c.state)
}

// PreviousState returns a shallow copy of the snapshot recorded at the end of
// the last Update.
func (c *Container) PreviousState() snapshot.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshot.Clone(c.previous)
}

// Subscribers returns the number of keyed and any-change subscriptions.
func (c *Container) Subscribers() (perKey, anyChange int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order), len(c.anyOrder)
}

// SubscribedKeys returns the keys that currently have at least one subscriber.
func (c *Container) SubscribedKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.keyed))
	for key := range c.keyed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func without(list []*subscription, target *subscription) []*subscription {
	out := list[:0:0]
	for _, sub := range list {
		if sub != target {
			out = append(out, sub)
		}
	}
	return out
}
