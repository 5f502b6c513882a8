// Package store defines the durable persistence contract for settings
// snapshots, plus in-memory and JSON file implementations.
//
// Responsibilities:
//   - Store only loads and saves the single, complete snapshot for a namespace.
//     Snapshots are written wholesale, never as diffs.
//   - Meta carries the logical version and origin role the snapshot was written
//     under. Implementations reject a Save whose version is lower than the one
//     already stored with ErrStaleVersion; equal versions overwrite.
//   - Merging persisted values over defaults is the replica's job, not the
//     store's.
//
// Data flow:
//
//	Replica.Update -> Store.Save(full snapshot, Meta{Version, Origin})
//	Replica bootstrap -> Store.Load -> snapshot.Merge(persisted, defaults)
//
// Additional backends live in subpackages (sqlite, s3store). Every backend is
// exercised by the shared contract in storetest.
package store
