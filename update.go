package replica

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/goliatone/go-replica/pkg/activity"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
	"go.opentelemetry.io/otel/attribute"
)

// maxRebases bounds how often one update is re-applied over a newer
// snapshot found in the store or at a peer.
const maxRebases = 3

// Update applies partial, persists the full snapshot and broadcasts it to the
// peer roles.
func (r *Replica) Update(ctx context.Context, partial snapshot.Snapshot) error {
	return r.UpdateWith(ctx, partial, true)
}

// UpdateLocal applies and persists partial without broadcasting.
func (r *Replica) UpdateLocal(ctx context.Context, partial snapshot.Snapshot) error {
	return r.UpdateWith(ctx, partial, false)
}

// UpdateWith applies partial to the local snapshot, notifying subscribers
// synchronously, then persists the entire snapshot and, when propagate is
// set, broadcasts it.
//
// When the store or a peer already holds a newer snapshot, partial is
// re-applied on top of it under a stamp above both and the write is retried,
// so the latest write wins even on a replica that missed broadcasts. A store
// failure is returned as *PersistenceError and skips the broadcast; the local
// change is kept. Peer failures never fail the update.
func (r *Replica) UpdateWith(ctx context.Context, partial snapshot.Snapshot, propagate bool) error {
	return r.update(ctx, partial, propagate, activity.VerbSettingsUpdated)
}

// ResetToDefault updates every default key back to its default value and
// broadcasts the result. Keys absent from the defaults are left alone.
func (r *Replica) ResetToDefault(ctx context.Context) error {
	return r.update(ctx, r.Defaults(), true, activity.VerbSettingsReset)
}

func (r *Replica) update(ctx context.Context, partial snapshot.Snapshot, propagate bool, verb string) (err error) {
	ctx, span := r.startSpan(ctx, "replica.Update",
		attribute.Bool("replica.propagate", propagate),
		attribute.Int("replica.keys", len(partial)),
	)
	defer func() { endSpan(span, err) }()

	changed := r.container.Update(partial)
	stamp := r.bump(len(changed) > 0)
	r.metrics.recordUpdate("local", len(changed))
	r.logger.Debug("replica updated",
		"changed", changed,
		"version", stamp.Version,
		"propagate", propagate,
	)

	for rebases := 0; ; rebases++ {
		meta, err := r.persist(ctx, stamp)
		if errors.Is(err, store.ErrStaleVersion) {
			stored, storedStamp, loadErr := r.loadStored(ctx)
			if loadErr != nil {
				return loadErr
			}
			if rebases >= maxRebases {
				r.adopt(stored, storedStamp)
				return err
			}
			stamp, changed = r.rebase(partial, stored, storedStamp, changed)
			span.SetAttributes(attribute.Int("replica.rebases", rebases+1))
			continue
		}
		if err != nil {
			return err
		}
		if !propagate {
			r.emit(ctx, verb, stamp, meta, changed)
			return nil
		}

		newer := newestRejection(r.UpdateOthers(ctx))
		if newer == nil || rebases >= maxRebases {
			r.emit(ctx, verb, stamp, meta, changed)
			if newer != nil {
				r.logger.Warn("replica peers still hold a newer snapshot", "version", newer.Version)
			}
			return nil
		}
		r.metrics.recordStaleDrop("peer")
		stamp, changed = r.rebase(partial, newer.Snapshot, Stamp{Version: newer.Version, Origin: newer.Origin}, changed)
		span.SetAttributes(attribute.Int("replica.rebases", rebases+1))
	}
}

// rebase re-applies partial over base, a snapshot newer than the local one,
// and stamps the result above both. It returns the new stamp and the union
// of changed keys.
func (r *Replica) rebase(partial, base snapshot.Snapshot, baseStamp Stamp, changed []string) (Stamp, []string) {
	more := r.container.Update(snapshot.Merge(partial, base))

	r.stampMu.Lock()
	version := max(r.stamp.Version, baseStamp.Version) + 1
	r.stamp = Stamp{Version: version, Origin: r.role}
	stamp := r.stamp
	r.stampMu.Unlock()

	r.logger.Info("replica rebased update over newer snapshot",
		"base", baseStamp.Version,
		"base_origin", string(baseStamp.Origin),
		"version", stamp.Version,
	)
	return stamp, unionKeys(changed, more)
}

// adopt replaces the local snapshot with one read back from the store.
func (r *Replica) adopt(stored snapshot.Snapshot, stamp Stamp) {
	r.container.Update(stored)
	r.stampMu.Lock()
	r.stamp = stamp
	r.stampMu.Unlock()
}

func (r *Replica) loadStored(ctx context.Context) (snapshot.Snapshot, Stamp, error) {
	snap, meta, _, err := r.store.Load(ctx)
	if err != nil {
		return nil, Stamp{}, &PersistenceError{Role: r.role, Op: "load", Err: err}
	}
	return snapshot.Merge(snap, r.defaults), Stamp{Version: meta.Version, Origin: message.Role(meta.Origin)}, nil
}

// newestRejection returns the newest snapshot a peer kept instead of ours.
func newestRejection(results []PeerResult) *message.StateUpdate {
	var newest *message.StateUpdate
	for _, result := range results {
		if result.Newer == nil {
			continue
		}
		if newest == nil || (Stamp{Version: newest.Version, Origin: newest.Origin}).Before(Stamp{Version: result.Newer.Version, Origin: result.Newer.Origin}) {
			newest = result.Newer
		}
	}
	return newest
}

func unionKeys(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, key := range b {
		if !slices.Contains(out, key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// UpdateOthers sends the current snapshot to every peer role, one addressed
// stateUpdate each. Sends run concurrently and fail independently; failures
// are logged and reported in the results but never returned as an error.
func (r *Replica) UpdateOthers(ctx context.Context) []PeerResult {
	peers := r.role.Peers()
	ctx, span := r.startSpan(ctx, "replica.UpdateOthers", attribute.Int("replica.peers", len(peers)))
	defer span.End()

	if r.bus == nil {
		return nil
	}
	results := make([]PeerResult, len(peers))
	if r.isClosed() {
		for i, peer := range peers {
			results[i] = PeerResult{Peer: peer, Err: &TransportError{Role: r.role, Peer: peer, Err: ErrClosed}}
		}
		return results
	}

	stamp := r.Version()
	payload := message.StateUpdate{
		Snapshot: r.container.State(),
		Version:  stamp.Version,
		Origin:   stamp.Origin,
	}

	var wg sync.WaitGroup
	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer message.Role) {
			defer wg.Done()
			results[i] = r.sendTo(ctx, peer, payload)
		}(i, peer)
	}
	wg.Wait()
	return results
}

func (r *Replica) sendTo(ctx context.Context, peer message.Role, payload message.StateUpdate) PeerResult {
	result := PeerResult{Peer: peer}
	msg, err := message.New(r.role, peer, payload)
	if err == nil {
		result.Response, err = r.bus.Transport(peer).Send(ctx, msg)
	}
	if err != nil {
		result.Err = &TransportError{Role: r.role, Peer: peer, Err: err}
		r.logger.Warn("replica broadcast failed", "peer", string(peer), "error", err)
	} else if !result.Response.Success && result.Response.Error == message.StaleStateError {
		var newer message.StateUpdate
		if decodeErr := result.Response.DecodeData(&newer); decodeErr == nil && newer.Snapshot != nil {
			result.Newer = &newer
		}
		r.logger.Info("replica broadcast rejected as stale", "peer", string(peer), "version", newer.Version)
	}
	r.metrics.recordBroadcast(peer, err)
	return result
}

// applyRemote applies a snapshot received from a peer without rebroadcasting.
// It reports false when the snapshot is older than the one already held.
func (r *Replica) applyRemote(ctx context.Context, update message.StateUpdate, from message.Role) (applied bool, err error) {
	incoming := Stamp{Version: update.Version, Origin: update.Origin}
	if incoming.Origin == "" {
		incoming.Origin = from
	}
	ctx, span := r.startSpan(ctx, "replica.Apply",
		attribute.Int64("replica.version", int64(incoming.Version)),
		attribute.String("replica.origin", string(incoming.Origin)),
	)
	defer func() { endSpan(span, err) }()

	r.stampMu.Lock()
	current := r.stamp
	if incoming.Before(current) {
		r.stampMu.Unlock()
		r.metrics.recordStaleDrop("receive")
		r.logger.Info("replica dropped stale update",
			"from", string(from),
			"version", incoming.Version,
			"origin", string(incoming.Origin),
			"current", current.Version,
		)
		return false, nil
	}
	r.stamp = incoming
	r.stampMu.Unlock()

	changed := r.container.Update(update.Snapshot)
	r.metrics.recordUpdate("remote", len(changed))
	r.logger.Debug("replica applied peer update",
		"from", string(from),
		"changed", changed,
		"version", incoming.Version,
	)

	meta, err := r.persist(ctx, incoming)
	if errors.Is(err, store.ErrStaleVersion) {
		stored, storedStamp, loadErr := r.loadStored(ctx)
		if loadErr != nil {
			return true, loadErr
		}
		r.adopt(stored, storedStamp)
		return false, nil
	}
	if err != nil {
		return true, err
	}
	r.emit(ctx, activity.VerbSettingsSynced, incoming, meta, changed)
	return true, nil
}

// bump advances the Lamport counter for a local update that changed
// something and returns the stamp to persist under.
func (r *Replica) bump(changed bool) Stamp {
	r.stampMu.Lock()
	defer r.stampMu.Unlock()
	if changed {
		r.stamp = Stamp{Version: r.stamp.Version + 1, Origin: r.role}
	}
	return r.stamp
}

func (r *Replica) persist(ctx context.Context, stamp Stamp) (store.Meta, error) {
	meta, err := r.store.Save(ctx, r.container.State(), store.Meta{
		Version: stamp.Version,
		Origin:  string(stamp.Origin),
	})
	switch {
	case err == nil:
		r.stampMu.Lock()
		r.snapshotID = meta.SnapshotID
		r.stampMu.Unlock()
		return meta, nil
	case errors.Is(err, store.ErrStaleVersion):
		r.metrics.recordStaleDrop("store")
		r.logger.Info("replica write rejected by a newer stored version", "version", stamp.Version, "error", err)
		return store.Meta{}, &PersistenceError{Role: r.role, Op: "save", Err: err}
	default:
		r.metrics.recordPersistenceFailure()
		r.logger.Error("replica persist failed", "version", stamp.Version, "error", err)
		return store.Meta{}, &PersistenceError{Role: r.role, Op: "save", Err: err}
	}
}

func (r *Replica) emit(ctx context.Context, verb string, stamp Stamp, meta store.Meta, changed []string) {
	if !r.activity.Enabled() || len(changed) == 0 {
		return
	}
	err := r.activity.Emit(ctx, activity.Event{
		Verb:        verb,
		Namespace:   r.namespace,
		Role:        string(r.role),
		Origin:      string(stamp.Origin),
		Version:     stamp.Version,
		SnapshotID:  meta.SnapshotID,
		ChangedKeys: changed,
		OccurredAt:  r.now(),
	})
	if err != nil {
		r.logger.Warn("replica activity emit failed", "verb", verb, "error", err)
	}
}
