// Package store keeps the latest monitor state and fans events out to
// subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining apply, snapshot and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Record]: Storage representation of one monitor event
//   - [Snapshot]: Latest state folded from applied records
//
// Subscribers receive records via channels with non-blocking sends (slow
// subscribers miss records rather than block the bridge).
package store
