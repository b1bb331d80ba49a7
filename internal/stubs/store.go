package stubs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store holds the authoritative entity map plus the pending-operation overlay.
// Reads are total: they answer from whatever state is currently held and never
// fail. The overlay is resolved at read time; only the authoritative set is
// indexed.
type Store struct {
	mu       sync.RWMutex
	items    map[string]Mapping
	pending  map[string]PendingOp
	indexes  *indexSet
	notifier Notifier
	logger   Logger

	populated        bool
	lastSyncAt       time.Time
	lastSyncDuration time.Duration
}

type StoreOptions struct {
	Notifier Notifier
	Logger   Logger
}

// SyncMeta describes the refresh that produced an authoritative set.
type SyncMeta struct {
	SyncedAt time.Time
	Duration time.Duration
	Source   string
}

// ChangeSet is an incremental diff between the local authoritative set and a
// freshly fetched server listing.
type ChangeSet struct {
	Added   []Mapping
	Updated []Mapping
	Deleted []string
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Updated) == 0 && len(cs.Deleted) == 0
}

type FilterCriteria struct {
	Method   string
	URL      string
	Priority int
	Scenario string
}

type StoreStats struct {
	Count            int           `json:"count"`
	PendingCount     int           `json:"pendingCount"`
	LastSyncAt       time.Time     `json:"lastSyncAt"`
	LastSyncDuration time.Duration `json:"lastSyncDuration"`
	Populated        bool          `json:"populated"`
}

func NewStore(opts StoreOptions) *Store {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier
	}
	return &Store{
		items:    map[string]Mapping{},
		pending:  map[string]PendingOp{},
		indexes:  newIndexSet(),
		notifier: notifier,
		logger:   opts.Logger,
	}
}

// Get returns the optimistic snapshot when a non-delete pending op exists for
// the id, otherwise the authoritative entity, otherwise nil.
func (s *Store) Get(id string) *Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if op, ok := s.pending[id]; ok && op.Kind != OpDelete && op.Mapping != nil {
		m := op.Mapping.Clone()
		return &m
	}
	if m, ok := s.items[id]; ok {
		out := m.Clone()
		return &out
	}
	return nil
}

// GetAll returns the authoritative set minus pending deletes, overlaid with
// pending create/update snapshots, sorted by priority then id.
func (s *Store) GetAll() []Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mapping, 0, len(s.items)+len(s.pending))
	for id, m := range s.items {
		op, ok := s.pending[id]
		if ok && op.Kind == OpDelete {
			continue
		}
		if ok && op.Mapping != nil {
			out = append(out, op.Mapping.Clone())
			continue
		}
		out = append(out, m.Clone())
	}
	for id, op := range s.pending {
		if op.Kind != OpCreate || op.Mapping == nil {
			continue
		}
		if _, exists := s.items[id]; exists {
			continue
		}
		out = append(out, op.Mapping.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectivePriority() != out[j].EffectivePriority() {
			return out[i].EffectivePriority() < out[j].EffectivePriority()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetFromServer replaces the entire authoritative set and rebuilds every
// index. The pending overlay is left untouched: a full refresh can never
// silently discard an unconfirmed local edit.
func (s *Store) SetFromServer(items []Mapping, meta SyncMeta) {
	s.mu.Lock()
	next := make(map[string]Mapping, len(items))
	for _, m := range items {
		if m.ID == "" || IsCacheSentinel(m) {
			continue
		}
		next[m.ID] = m.Clone()
	}
	s.items = next
	s.indexes.rebuild(s.items)
	s.populated = true
	if !meta.SyncedAt.IsZero() {
		s.lastSyncAt = meta.SyncedAt
	}
	if meta.Duration > 0 {
		s.lastSyncDuration = meta.Duration
	}
	s.mu.Unlock()
	s.notifier.Notify(Notification{Kind: NoteStoreChanged, Timestamp: time.Now()})
}

// RecordSync stamps the store with the outcome of a reconciliation that was
// applied as an incremental diff rather than a wholesale replace.
func (s *Store) RecordSync(meta SyncMeta) {
	s.mu.Lock()
	s.populated = true
	if !meta.SyncedAt.IsZero() {
		s.lastSyncAt = meta.SyncedAt
	}
	if meta.Duration > 0 {
		s.lastSyncDuration = meta.Duration
	}
	s.mu.Unlock()
}

// Diff compares a server listing against the local authoritative set. Entities
// are considered changed when their serialized forms differ.
func (s *Store) Diff(serverItems []Mapping) ChangeSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cs ChangeSet
	serverByID := make(map[string]Mapping, len(serverItems))
	for _, m := range serverItems {
		if m.ID == "" || IsCacheSentinel(m) {
			continue
		}
		serverByID[m.ID] = m
	}
	ids := make([]string, 0, len(serverByID))
	for id := range serverByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		server := serverByID[id]
		local, ok := s.items[id]
		if !ok {
			cs.Added = append(cs.Added, server)
			continue
		}
		if local.canonical() != server.canonical() {
			cs.Updated = append(cs.Updated, server)
		}
	}
	localIDs := make([]string, 0, len(s.items))
	for id := range s.items {
		localIDs = append(localIDs, id)
	}
	sort.Strings(localIDs)
	for _, id := range localIDs {
		if _, ok := serverByID[id]; !ok {
			cs.Deleted = append(cs.Deleted, id)
		}
	}
	return cs
}

// ApplyChanges merges an incremental diff into the authoritative set. Updated
// entries colliding with an in-flight pending op are not applied; they are
// returned as update-conflicts. Deleted entries are removed unconditionally
// and returned as delete-conflicts when a pending op targeted them. The
// caller routes the returned conflicts to the resolver.
func (s *Store) ApplyChanges(cs ChangeSet) []Conflict {
	s.mu.Lock()
	var conflicts []Conflict
	changed := false
	for _, m := range cs.Added {
		if m.ID == "" || IsCacheSentinel(m) {
			continue
		}
		s.upsertLocked(m)
		changed = true
	}
	for _, m := range cs.Updated {
		if m.ID == "" || IsCacheSentinel(m) {
			continue
		}
		if op, ok := s.pending[m.ID]; ok {
			server := m.Clone()
			conflicts = append(conflicts, Conflict{
				Type:    ConflictUpdate,
				ID:      m.ID,
				Pending: op,
				Server:  &server,
			})
			continue
		}
		s.upsertLocked(m)
		changed = true
	}
	for _, id := range cs.Deleted {
		if old, ok := s.items[id]; ok {
			s.indexes.remove(old)
			delete(s.items, id)
			changed = true
		}
		if op, ok := s.pending[id]; ok {
			conflicts = append(conflicts, Conflict{
				Type:    ConflictDelete,
				ID:      id,
				Pending: op,
			})
		}
	}
	s.mu.Unlock()
	if changed {
		s.notifier.Notify(Notification{Kind: NoteStoreChanged, Timestamp: time.Now()})
	}
	return conflicts
}

// AddPending registers a local mutation intent. A newer intent for the same
// id replaces the previous one: last local intent wins.
func (s *Store) AddPending(op PendingOp) {
	if op.ID == "" {
		return
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if op.Kind == OpDelete {
		op.Mapping = nil
	} else if op.Mapping != nil {
		m := op.Mapping.Clone()
		if m.Metadata.Source == "" {
			m.Metadata.Source = SourceOptimistic
		}
		op.Mapping = &m
	}
	s.mu.Lock()
	s.pending[op.ID] = op
	s.mu.Unlock()
	s.notifier.Notify(Notification{Kind: NoteStoreChanged, MappingID: op.ID, Timestamp: time.Now()})
}

// ConfirmPending is terminal for the pending entry: it is cleared and the
// server's canonical entity (or the optimistic snapshot when the server sent
// none) is committed into the authoritative set. For creates this is where the
// temp id is swapped for the server-issued one. Calling it twice with the same
// arguments yields the same state as calling it once.
func (s *Store) ConfirmPending(id string, server *Mapping) {
	s.mu.Lock()
	op, had := s.pending[id]
	delete(s.pending, id)
	switch {
	case server != nil:
		committed := server.Sanitized()
		s.upsertLocked(committed)
		s.populated = true
	case had && op.Kind == OpDelete:
		if old, ok := s.items[id]; ok {
			s.indexes.remove(old)
			delete(s.items, id)
		}
	case had && op.Mapping != nil:
		committed := op.Mapping.Sanitized()
		s.upsertLocked(committed)
	}
	s.mu.Unlock()
	s.notifier.Notify(Notification{Kind: NoteStoreChanged, MappingID: id, Timestamp: time.Now()})
}

// RollbackPending undoes the optimistic effect of a pending op. When an
// original entity is supplied it is restored into the authoritative set; a
// rolled-back create simply disappears.
func (s *Store) RollbackPending(id string, original *Mapping) {
	s.mu.Lock()
	op, had := s.pending[id]
	delete(s.pending, id)
	if original != nil {
		s.upsertLocked(original.Clone())
	} else if had && op.Kind == OpCreate {
		if old, ok := s.items[id]; ok {
			s.indexes.remove(old)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()
	if had {
		s.notifier.Notify(Notification{Kind: NoteStoreChanged, MappingID: id, Timestamp: time.Now()})
	}
}

// Pending returns the pending op for an id, if any.
func (s *Store) Pending(id string) (PendingOp, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.pending[id]
	return op, ok
}

// HasPending reports whether any unconfirmed local mutation exists anywhere in
// the store. The snapshot rebuild skips its write while this holds.
func (s *Store) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending) > 0
}

// PendingIDs returns the ids of all in-flight pending ops, sorted.
func (s *Store) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Filter set-intersects per-dimension index results. A url criterion that
// misses the exact-match index falls back to a substring scan over the
// authoritative set. Results carry the pending overlay the same way GetAll
// does.
func (s *Store) Filter(criteria FilterCriteria) []Mapping {
	s.mu.RLock()
	var candidate map[string]struct{}
	narrowed := false
	apply := func(set map[string]struct{}) {
		if !narrowed {
			candidate = set
			narrowed = true
			return
		}
		candidate = intersect(candidate, set)
	}
	if method := normalizeMethod(criteria.Method); method != "" {
		apply(copySet(s.indexes.byMethod[method]))
	}
	if criteria.URL != "" {
		if set, ok := s.indexes.byURL[criteria.URL]; ok {
			apply(copySet(set))
		} else {
			apply(s.scanURLLocked(criteria.URL))
		}
	}
	if criteria.Priority > 0 {
		apply(copySet(s.indexes.byPriority[criteria.Priority]))
	}
	if criteria.Scenario != "" {
		apply(copySet(s.indexes.byScenario[criteria.Scenario]))
	}
	var out []Mapping
	if !narrowed {
		s.mu.RUnlock()
		return s.GetAll()
	}
	for id := range candidate {
		op, pending := s.pending[id]
		if pending && op.Kind == OpDelete {
			continue
		}
		if pending && op.Mapping != nil {
			out = append(out, op.Mapping.Clone())
			continue
		}
		if m, ok := s.items[id]; ok {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectivePriority() != out[j].EffectivePriority() {
			return out[i].EffectivePriority() < out[j].EffectivePriority()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Signature is a cheap structural fingerprint of the authoritative set: the
// count plus a digest over the sorted ids. Very large sets digest only the
// head and tail to bound cost.
func (s *Store) Signature() string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	const digestBound = 2000
	sample := ids
	if len(ids) > digestBound {
		head := ids[:100]
		tail := ids[len(ids)-100:]
		sample = append(append([]string{}, head...), tail...)
	}
	sum := sha256.Sum256([]byte(strings.Join(sample, ",")))
	return fmt.Sprintf("%d:%s", len(ids), hex.EncodeToString(sum[:]))
}

// SnapshotForCache returns sanitized copies of the authoritative set, sorted
// by id, ready for the snapshot write path.
func (s *Store) SnapshotForCache() []Mapping {
	s.mu.RLock()
	out := make([]Mapping, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, m.Sanitized())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Count:            len(s.items),
		PendingCount:     len(s.pending),
		LastSyncAt:       s.lastSyncAt,
		LastSyncDuration: s.lastSyncDuration,
		Populated:        s.populated,
	}
}

// Populated reports whether the store has been seeded at least once, either
// from the service cache or a full sync.
func (s *Store) Populated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.populated
}

func (s *Store) upsertLocked(m Mapping) {
	if old, ok := s.items[m.ID]; ok {
		s.indexes.replace(old, m)
	} else {
		s.indexes.add(m)
	}
	s.items[m.ID] = m
}

func (s *Store) scanURLLocked(needle string) map[string]struct{} {
	out := map[string]struct{}{}
	for id, m := range s.items {
		if strings.Contains(m.Request.URL, needle) || strings.Contains(m.Request.URLPattern, needle) {
			out[id] = struct{}{}
		}
	}
	return out
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for id := range in {
		out[id] = struct{}{}
	}
	return out
}
