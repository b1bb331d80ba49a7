package adminsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

// Mutator runs the optimistic write path: the local intent lands in the
// pending overlay first so the view updates instantly, then the remote call
// confirms it with the server's canonical entity or rolls it back.
type Mutator struct {
	client  RemoteClient
	store   *stubs.Store
	logger  stubs.Logger
	timeout time.Duration
}

type MutatorOptions struct {
	Logger  stubs.Logger
	Timeout time.Duration
}

func NewMutator(client RemoteClient, store *stubs.Store, opts MutatorOptions) *Mutator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Mutator{client: client, store: store, logger: opts.Logger, timeout: timeout}
}

// Create registers an optimistic create under a temp id, posts it, and swaps
// the temp id for the server-issued one on confirmation.
func (m *Mutator) Create(ctx context.Context, mapping stubs.Mapping) (*stubs.Mapping, error) {
	if stubs.IsCacheSentinel(mapping) {
		return nil, errors.New("reserved mapping id")
	}
	tempID := mapping.ID
	if tempID == "" {
		tempID = stubs.NewTempID()
	}
	optimistic := mapping.Clone()
	optimistic.ID = tempID
	payload, _ := json.Marshal(mapping)
	m.store.AddPending(stubs.PendingOp{
		ID:        tempID,
		Kind:      stubs.OpCreate,
		Mapping:   &optimistic,
		Payload:   payload,
		Timestamp: time.Now(),
	})

	callCtx, cancel := withDeadline(ctx, m.timeout)
	defer cancel()
	created, err := m.client.Create(callCtx, mapping)
	if err != nil {
		m.logf("create rolled back for %s: %v", tempID, err)
		m.store.RollbackPending(tempID, nil)
		return nil, err
	}
	m.store.ConfirmPending(tempID, created)
	return created, nil
}

// Update registers an optimistic update and pushes it. On failure the prior
// authoritative entity is restored.
func (m *Mutator) Update(ctx context.Context, id string, mapping stubs.Mapping) (*stubs.Mapping, error) {
	original := m.store.Get(id)
	optimistic := mapping.Clone()
	optimistic.ID = id
	payload, _ := json.Marshal(mapping)
	m.store.AddPending(stubs.PendingOp{
		ID:        id,
		Kind:      stubs.OpUpdate,
		Mapping:   &optimistic,
		Payload:   payload,
		Timestamp: time.Now(),
	})

	callCtx, cancel := withDeadline(ctx, m.timeout)
	defer cancel()
	updated, err := m.client.Update(callCtx, id, mapping)
	if err != nil {
		m.logf("update rolled back for %s: %v", id, err)
		m.store.RollbackPending(id, original)
		return nil, err
	}
	m.store.ConfirmPending(id, updated)
	return updated, nil
}

// Delete registers an optimistic delete and pushes it. A 404 from the server
// confirms the delete: the entity is already gone.
func (m *Mutator) Delete(ctx context.Context, id string) error {
	original := m.store.Get(id)
	m.store.AddPending(stubs.PendingOp{
		ID:        id,
		Kind:      stubs.OpDelete,
		Timestamp: time.Now(),
	})

	callCtx, cancel := withDeadline(ctx, m.timeout)
	defer cancel()
	err := m.client.Delete(callCtx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.logf("delete rolled back for %s: %v", id, err)
		m.store.RollbackPending(id, original)
		return err
	}
	m.store.ConfirmPending(id, nil)
	return nil
}

func (m *Mutator) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
