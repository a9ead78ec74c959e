package store

import (
	"context"
	"time"
)

// DefaultAuditTrailMax caps the audit trail length; the oldest entries are
// dropped first.
const DefaultAuditTrailMax = 50

// PermissionStore is the authoritative per-document permission record store.
// Every mutation is atomic with respect to a single document id: concurrent
// mutations to the same document serialize, mutations to different documents
// are independent. Inputs are expected to be validated and normalized by the
// mutation service before they reach the store.
type PermissionStore interface {
	// GetPermissions returns the record for documentID, falling back to the
	// default record for documents nobody configured yet. It never fails on
	// an unknown document.
	GetPermissions(ctx context.Context, documentID string) (PermissionRecord, error)
	SetVisibility(ctx context.Context, documentID string, visibility Visibility, actorID string, now time.Time) (PermissionRecord, error)
	SetDomainRestrictions(ctx context.Context, documentID string, domains []string, actorID string, now time.Time) (PermissionRecord, error)
	SetAccountPermissions(ctx context.Context, documentID string, accounts []AccountPermission, actorID string, now time.Time) (PermissionRecord, error)
	RemoveAccountPermission(ctx context.Context, documentID, accountID, actorID string, now time.Time) (PermissionRecord, error)
}

// The apply* helpers implement the record state machine once, inside the
// critical section of whichever backend invoked them.

// applySetVisibility switches the sharing mode. Switching to public revokes
// the domain and account lists in the same step so stale restrictions cannot
// reactivate when the mode changes again later.
func applySetVisibility(record *PermissionRecord, visibility Visibility) {
	record.Visibility = visibility
	if visibility == VisibilityPublic {
		record.Domains = []string{}
		record.Accounts = []AccountPermission{}
	}
}

// applySetDomains replaces the domain allow-list and forces restricted mode.
func applySetDomains(record *PermissionRecord, domains []string) {
	record.Domains = append([]string{}, domains...)
	record.Visibility = VisibilityRestricted
}

// applySetAccounts replaces the full account list (not a merge), forces
// account mode, and appends one audit entry per account in the new list, all
// sharing the same timestamp.
func applySetAccounts(record *PermissionRecord, accounts []AccountPermission, actorID string, now time.Time, auditMax int) {
	record.Accounts = append([]AccountPermission{}, accounts...)
	record.Visibility = VisibilityAccount

	entries := make([]AuditEntry, 0, len(accounts))
	for _, account := range accounts {
		entries = append(entries, AuditEntry{
			AccountID:       account.AccountID,
			Email:           account.Email,
			PermissionLevel: account.PermissionLevel,
			UpdatedAt:       now,
			UpdatedBy:       actorID,
		})
	}
	record.AuditTrail = appendAudit(record.AuditTrail, entries, auditMax)
}

// applyRemoveAccount removes one allow-list entry by id. Removing an absent
// id is a no-op: the record is unchanged and no audit entry is appended.
func applyRemoveAccount(record *PermissionRecord, accountID, actorID string, now time.Time, auditMax int) bool {
	removed, ok := record.Account(accountID)
	if !ok {
		return false
	}

	kept := make([]AccountPermission, 0, len(record.Accounts)-1)
	for _, account := range record.Accounts {
		if account.AccountID != accountID {
			kept = append(kept, account)
		}
	}
	record.Accounts = kept
	record.AuditTrail = appendAudit(record.AuditTrail, []AuditEntry{{
		AccountID:       removed.AccountID,
		Email:           removed.Email,
		PermissionLevel: removed.PermissionLevel,
		UpdatedAt:       now,
		UpdatedBy:       actorID,
	}}, auditMax)
	return true
}

// appendAudit prepends entries (the trail is newest-first) and drops the
// oldest entries past max.
func appendAudit(trail, entries []AuditEntry, max int) []AuditEntry {
	if max <= 0 {
		max = DefaultAuditTrailMax
	}
	merged := make([]AuditEntry, 0, len(entries)+len(trail))
	merged = append(merged, entries...)
	merged = append(merged, trail...)
	if len(merged) > max {
		merged = merged[:max]
	}
	return merged
}
