package stubs

import (
	"fmt"
	"time"
)

type ConflictType string

const (
	ConflictUpdate ConflictType = "update"
	ConflictDelete ConflictType = "delete"
)

// Conflict is a collision between an in-flight local mutation and a
// server-confirmed change. It is a first-class outcome, not an error.
type Conflict struct {
	Type    ConflictType
	ID      string
	Pending PendingOp
	Server  *Mapping
}

// Resolver applies whole-entity last-write-wins to conflicts. Edits replace an
// entire entity, never partially, so no field-level merge is attempted.
type Resolver struct {
	store    *Store
	notifier Notifier
	logger   Logger
}

func NewResolver(store *Store, notifier Notifier, logger Logger) *Resolver {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &Resolver{store: store, notifier: notifier, logger: logger}
}

// Resolve settles one conflict.
//
// Delete-conflicts: the server deletion always wins; the pending op is
// dropped and the user is told a collaborator removed the entity.
//
// Update-conflicts: the server entity's edited-at is compared against the
// pending op's client timestamp. Server-newer rolls the pending op back to
// the server version and notifies the user; local-newer leaves the pending op
// untouched and defers resolution to its own confirm or rollback.
func (r *Resolver) Resolve(c Conflict) {
	switch c.Type {
	case ConflictDelete:
		r.store.RollbackPending(c.ID, nil)
		r.dropRemnant(c.ID)
		r.logf("conflict: %s deleted remotely while a local %s was in flight", c.ID, c.Pending.Kind)
		r.notifier.Notify(Notification{
			Kind:      NoteConflictDeleted,
			MappingID: c.ID,
			Message:   fmt.Sprintf("mapping %s was removed by another operator; your unsaved %s was discarded", c.ID, c.Pending.Kind),
			Timestamp: time.Now(),
		})
	case ConflictUpdate:
		if c.Server == nil {
			return
		}
		serverAt := c.Server.EditedAtTime()
		localAt := c.Pending.Timestamp
		if !serverAt.After(localAt) {
			// Local edit is newer. Leave the pending op in place; its own
			// confirm or rollback settles it.
			r.logf("conflict: keeping newer local edit for %s (local %s, server %s)", c.ID, localAt.Format(time.RFC3339), serverAt.Format(time.RFC3339))
			return
		}
		r.store.RollbackPending(c.ID, c.Server)
		r.logf("conflict: server version of %s wins (local %s, server %s)", c.ID, localAt.Format(time.RFC3339), serverAt.Format(time.RFC3339))
		r.notifier.Notify(Notification{
			Kind:      NoteConflictOverwritten,
			MappingID: c.ID,
			Message:   fmt.Sprintf("mapping %s was changed by another operator; your unsaved edit was replaced with the newer server version", c.ID),
			Timestamp: time.Now(),
		})
	}
}

// ResolveAll settles a batch of conflicts in order.
func (r *Resolver) ResolveAll(conflicts []Conflict) {
	for _, c := range conflicts {
		r.Resolve(c)
	}
}

// dropRemnant clears any authoritative leftover for an id whose deletion the
// server confirmed. ApplyChanges already removed it on the diff path; rollback
// of a pending update may have restored nothing, so this is a no-op there.
func (r *Resolver) dropRemnant(id string) {
	r.store.mu.Lock()
	if old, ok := r.store.items[id]; ok {
		r.store.indexes.remove(old)
		delete(r.store.items, id)
	}
	r.store.mu.Unlock()
}

func (r *Resolver) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
