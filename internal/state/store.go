package state

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the remote sync state of one key.
type Status int

const (
	Synced Status = iota
	PendingRemote
	RemoteFailed
)

func (s Status) String() string {
	switch s {
	case Synced:
		return "synced"
	case PendingRemote:
		return "pending"
	case RemoteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Kind groups keys by the remote operation that mirrors them.
type Kind string

const (
	KindCart      Kind = "cart"
	KindFavorite  Kind = "favorite"
	KindCartClear Kind = "cartClear"
	KindMerge     Kind = "merge"
)

// Key identifies one mirrored value, e.g. a cart line by product id.
type Key struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + ":" + k.ID
}

// Snapshot summarizes remote sync health.
type Snapshot struct {
	Pending             int
	Failed              []Key
	LastError           error
	LastSuccess         time.Time
	LastUpdated         time.Time
	ConsecutiveFailures int // Remote calls failed in a row
}

// IsOffline returns true when the server has failed several calls in a row.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

type entry struct {
	gen    uint64
	status Status
	err    error
}

// Tracker records the outcome of asynchronous remote calls per key. A newer
// Begin for a key supersedes older in-flight calls: their Finish is ignored.
// The zero value is ready to use.
type Tracker struct {
	mu       sync.RWMutex
	gen      uint64
	entries  map[Key]*entry
	snapshot Snapshot
	metrics  *Metrics
}

// NewTracker returns a tracker reporting to m, which may be nil.
func NewTracker(m *Metrics) *Tracker {
	return &Tracker{metrics: m}
}

// Begin marks key pending and returns the generation to pass to Finish.
func (t *Tracker) Begin(key Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[Key]*entry)
	}
	t.gen++
	t.entries[key] = &entry{gen: t.gen, status: PendingRemote}
	t.metrics.setPending(t.countLocked(PendingRemote))
	return t.gen
}

// Finish records the result of the call started with gen. It returns false
// and changes nothing when a newer call for key has begun since, or the key
// was forgotten.
func (t *Tracker) Finish(key Key, gen uint64, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.metrics.observe(key.Kind, resultStale)
		return false
	}

	now := time.Now()
	t.snapshot.LastUpdated = now
	if err != nil {
		e.status = RemoteFailed
		e.err = err
		t.snapshot.LastError = err
		t.snapshot.ConsecutiveFailures++
		t.metrics.observe(key.Kind, resultError)
	} else {
		delete(t.entries, key)
		t.snapshot.LastError = nil
		t.snapshot.LastSuccess = now
		t.snapshot.ConsecutiveFailures = 0
		t.metrics.observe(key.Kind, resultOK)
	}
	t.metrics.setPending(t.countLocked(PendingRemote))
	return true
}

// MarkFailed records key as failed with err outside any call, e.g. for an
// update an earlier process never saw confirmed. In-flight calls for key
// become stale.
func (t *Tracker) MarkFailed(key Key, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[Key]*entry)
	}
	t.gen++
	t.entries[key] = &entry{gen: t.gen, status: RemoteFailed, err: err}
	t.snapshot.LastError = err
	t.metrics.setPending(t.countLocked(PendingRemote))
}

// Current reports whether gen is still the newest call for key.
func (t *Tracker) Current(key Key, gen uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return ok && e.gen == gen
}

// Forget drops key. In-flight calls for it become stale.
func (t *Tracker) Forget(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	t.metrics.setPending(t.countLocked(PendingRemote))
}

// Reset drops every key and the failure history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.snapshot = Snapshot{}
	t.metrics.setPending(0)
}

// Status returns the sync state of key. Unknown keys are Synced.
func (t *Tracker) Status(key Key) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key]; ok {
		return e.status
	}
	return Synced
}

// LastError returns the error of the latest failed call for key.
func (t *Tracker) LastError(key Key) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key]; ok && e.status == RemoteFailed {
		return e.err
	}
	return nil
}

// Failed lists keys whose latest call failed, ordered by kind then id.
func (t *Tracker) Failed() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keysLocked(RemoteFailed)
}

// Snapshot returns a copy of the current sync summary.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := t.snapshot
	snap.Pending = t.countLocked(PendingRemote)
	snap.Failed = t.keysLocked(RemoteFailed)
	if t.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", t.snapshot.LastError)
	}
	return snap
}

func (t *Tracker) countLocked(status Status) int {
	n := 0
	for _, e := range t.entries {
		if e.status == status {
			n++
		}
	}
	return n
}

func (t *Tracker) keysLocked(status Status) []Key {
	var keys []Key
	for k, e := range t.entries {
		if e.status == status {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}
