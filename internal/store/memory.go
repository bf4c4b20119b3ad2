package store

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps a single [Snapshot] and fans applied records out to
// subscribers via buffered channels. Sends are non-blocking; if a
// subscriber's buffer is full, the record is dropped for that subscriber
// so one slow client cannot stall the event path.
type MemoryStore struct {
	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers map[chan Record]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers: make(map[chan Record]struct{}),
	}
}

// Apply folds rec into the snapshot and notifies all subscribers.
func (m *MemoryStore) Apply(rec Record) {
	m.mu.Lock()
	fold(&m.snapshot, rec)
	m.mu.Unlock()

	m.notifySubscribers(rec)
}

func fold(s *Snapshot, rec Record) {
	if rec.SessionID != s.SessionID {
		// a new session starts from a clean slate
		*s = Snapshot{SessionID: rec.SessionID}
	}
	s.UpdatedAt = rec.At

	switch rec.Kind {
	case KindConnected:
		s.Connected = true
		s.LastError = nil
	case KindStopped:
		s.Connected = false
	case KindError:
		msg := rec.Message
		s.LastError = &msg
	case KindHeartbeatSent:
		s.HeartbeatsSent++
	case KindHeartRate:
		s.HeartRate = rec.HeartRate
		s.Trend = rec.Trend
		s.Text = rec.Text
	}
}

// Snapshot returns a copy of the current state.
func (m *MemoryStore) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.LastError != nil {
		msg := *s.LastError
		s.LastError = &msg
	}
	return s
}

// Subscribe creates a new subscription and returns a channel for receiving records.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Record {
	ch := make(chan Record, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Record) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// map keys are bidirectional channels, so compare instead of indexing
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(rec Record) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- rec:
		default:
			// subscriber is slow, drop the record
		}
	}
}
