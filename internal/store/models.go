package store

import "time"

// Visibility is the sharing mode gating non-owner access to a document.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
	VisibilityAccount    Visibility = "account"
)

// ValidVisibility reports whether raw names one of the three sharing modes.
func ValidVisibility(raw string) bool {
	switch Visibility(raw) {
	case VisibilityPublic, VisibilityRestricted, VisibilityAccount:
		return true
	default:
		return false
	}
}

// AccountPermission grants one named account a level on a document.
type AccountPermission struct {
	AccountID       string `json:"accountId"`
	Email           string `json:"email"`
	PermissionLevel string `json:"permissionLevel"`
}

// AuditEntry records one account-permission change. The trail is append-only,
// newest-first, and capped (oldest entries dropped).
type AuditEntry struct {
	AccountID       string    `json:"accountId"`
	Email           string    `json:"email"`
	PermissionLevel string    `json:"permissionLevel"`
	UpdatedAt       time.Time `json:"updatedAt"`
	UpdatedBy       string    `json:"updatedBy"`
}

// PermissionRecord is the authoritative sharing state of one document.
type PermissionRecord struct {
	DocumentID string              `json:"documentId"`
	Visibility Visibility          `json:"visibility"`
	Domains    []string            `json:"domains"`
	Accounts   []AccountPermission `json:"accounts"`
	AuditTrail []AuditEntry        `json:"auditTrail"`
}

// DefaultRecord is the record a document has before anyone configured
// sharing: restricted mode with empty lists.
func DefaultRecord(documentID string) PermissionRecord {
	return PermissionRecord{
		DocumentID: documentID,
		Visibility: VisibilityRestricted,
		Domains:    []string{},
		Accounts:   []AccountPermission{},
		AuditTrail: []AuditEntry{},
	}
}

// Account returns the allow-list entry for accountID, if present.
func (r PermissionRecord) Account(accountID string) (AccountPermission, bool) {
	for _, account := range r.Accounts {
		if account.AccountID == accountID {
			return account, true
		}
	}
	return AccountPermission{}, false
}

// HasDomain reports whether the (already normalized) domain is allow-listed.
func (r PermissionRecord) HasDomain(domain string) bool {
	for _, d := range r.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold a record without observing
// later mutations.
func (r PermissionRecord) Clone() PermissionRecord {
	out := r
	out.Domains = append([]string{}, r.Domains...)
	out.Accounts = append([]AccountPermission{}, r.Accounts...)
	out.AuditTrail = append([]AuditEntry{}, r.AuditTrail...)
	return out
}
