// Package optimistic coordinates client-side sharing mutations. A mutation is
// applied to the local record immediately as a prediction, then replaced by
// the server's authoritative record on success or rolled back to the exact
// pre-attempt snapshot on failure.
package optimistic

import (
	"context"
	"errors"
	"sync"

	"docvault/api/internal/store"
)

// State is the coordinator's position in one mutation attempt.
type State string

const (
	StateIdle       State = "idle"
	StatePredicting State = "predicting"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

// ErrMutationInFlight rejects a mutation started while a previous one is
// still waiting on the server.
var ErrMutationInFlight = errors.New("a mutation is already in flight")

// Mutator is the remote surface the coordinator drives. *client.Client
// satisfies it.
type Mutator interface {
	SetVisibility(ctx context.Context, documentID, visibility, actorID string) (store.PermissionRecord, error)
	SetDomainRestrictions(ctx context.Context, documentID string, domains []string, actorID string) (store.PermissionRecord, error)
	SetAccountPermissions(ctx context.Context, documentID string, accounts []store.AccountPermission, actorID string) (store.PermissionRecord, error)
	RemoveAccountPermission(ctx context.Context, documentID, accountID, actorID string) (store.PermissionRecord, error)
}

// Coordinator manages the sharing record of one document.
type Coordinator struct {
	mu          sync.Mutex
	remote      Mutator
	document    string
	record      store.PermissionRecord
	state       State
	onConfirmed func(store.PermissionRecord)
}

// NewCoordinator starts in Idle with the given authoritative record.
// onConfirmed is invoked only when a mutation settles with an authoritative
// record, never with a prediction or a rollback; predictions are observed
// through Record. Pass nil when no listener is needed.
func NewCoordinator(remote Mutator, documentID string, initial store.PermissionRecord, onConfirmed func(store.PermissionRecord)) *Coordinator {
	return &Coordinator{
		remote:      remote,
		document:    documentID,
		record:      initial.Clone(),
		state:       StateIdle,
		onConfirmed: onConfirmed,
	}
}

// Record returns a copy of the record as the caller should currently render
// it, predicted or authoritative.
func (c *Coordinator) Record() store.PermissionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetVisibility predicts the mode switch locally, then confirms it remotely.
func (c *Coordinator) SetVisibility(ctx context.Context, visibility store.Visibility, actorID string) (store.PermissionRecord, error) {
	return c.mutate(ctx,
		func(record *store.PermissionRecord) {
			record.Visibility = visibility
			if visibility == store.VisibilityPublic {
				record.Domains = []string{}
				record.Accounts = []store.AccountPermission{}
			}
		},
		func(ctx context.Context) (store.PermissionRecord, error) {
			return c.remote.SetVisibility(ctx, c.document, string(visibility), actorID)
		},
	)
}

// SetDomainRestrictions predicts the new allow-list locally.
func (c *Coordinator) SetDomainRestrictions(ctx context.Context, domains []string, actorID string) (store.PermissionRecord, error) {
	predicted := append([]string(nil), domains...)
	return c.mutate(ctx,
		func(record *store.PermissionRecord) {
			record.Visibility = store.VisibilityRestricted
			record.Domains = predicted
		},
		func(ctx context.Context) (store.PermissionRecord, error) {
			return c.remote.SetDomainRestrictions(ctx, c.document, domains, actorID)
		},
	)
}

// SetAccountPermissions predicts the new account list locally. Entries the
// caller left without ids keep their temporary blank id until the server's
// authoritative record replaces the prediction.
func (c *Coordinator) SetAccountPermissions(ctx context.Context, accounts []store.AccountPermission, actorID string) (store.PermissionRecord, error) {
	predicted := append([]store.AccountPermission(nil), accounts...)
	return c.mutate(ctx,
		func(record *store.PermissionRecord) {
			record.Visibility = store.VisibilityAccount
			record.Accounts = predicted
		},
		func(ctx context.Context) (store.PermissionRecord, error) {
			return c.remote.SetAccountPermissions(ctx, c.document, accounts, actorID)
		},
	)
}

// RemoveAccountPermission predicts the removal locally.
func (c *Coordinator) RemoveAccountPermission(ctx context.Context, accountID, actorID string) (store.PermissionRecord, error) {
	return c.mutate(ctx,
		func(record *store.PermissionRecord) {
			kept := make([]store.AccountPermission, 0, len(record.Accounts))
			for _, account := range record.Accounts {
				if account.AccountID != accountID {
					kept = append(kept, account)
				}
			}
			record.Accounts = kept
		},
		func(ctx context.Context) (store.PermissionRecord, error) {
			return c.remote.RemoveAccountPermission(ctx, c.document, accountID, actorID)
		},
	)
}

// mutate runs one prediction/confirmation cycle. The snapshot taken before
// the prediction is immutable for the attempt's lifetime; a failed or
// canceled attempt restores it exactly.
func (c *Coordinator) mutate(ctx context.Context, predict func(*store.PermissionRecord), call func(context.Context) (store.PermissionRecord, error)) (store.PermissionRecord, error) {
	c.mu.Lock()
	if c.state == StatePredicting {
		c.mu.Unlock()
		return store.PermissionRecord{}, ErrMutationInFlight
	}

	snapshot := c.record.Clone()
	predicted := c.record.Clone()
	predict(&predicted)
	c.record = predicted
	c.state = StatePredicting
	c.mu.Unlock()

	authoritative, err := call(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		// The attempt was abandoned. Whatever the server answered is stale
		// and discarded; neither Confirmed nor RolledBack applies. The
		// snapshot is restored silently so a reused coordinator does not
		// keep an unconfirmed prediction.
		c.record = snapshot
		c.state = StateIdle
		return store.PermissionRecord{}, ctxErr
	}
	if err != nil {
		// No partial prediction survives: the exact pre-attempt snapshot is
		// restored and the confirmation listener stays silent.
		c.record = snapshot
		c.state = StateRolledBack
		return store.PermissionRecord{}, err
	}

	c.record = authoritative.Clone()
	c.state = StateConfirmed
	if c.onConfirmed != nil {
		c.onConfirmed(c.record.Clone())
	}
	return authoritative, nil
}
