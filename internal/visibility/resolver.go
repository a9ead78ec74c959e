// Package visibility decides whether an identity may access a document and
// at what level. Resolution is a fixed, ordered rule chain evaluated with
// short-circuit semantics; the order is policy, not an optimization, so it is
// kept as a reviewable table rather than nested conditionals.
package visibility

import (
	"errors"

	"docvault/api/internal/docs"
	"docvault/api/internal/identity"
	"docvault/api/internal/rbac"
	"docvault/api/internal/store"
)

// RoleAdmin is the global-administrator role; it bypasses every other rule.
const RoleAdmin = "admin"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Decision is the resolver outcome for a granted request. Rule names the
// rule that matched, for logs and metrics.
type Decision struct {
	Granted bool       `json:"granted"`
	Level   rbac.Level `json:"level,omitempty"`
	Rule    string     `json:"rule,omitempty"`
}

type rule struct {
	name string
	eval func(doc docs.Document, record store.PermissionRecord, caller identity.Context) (Decision, bool, error)
}

// rules is the policy. Each entry either produces a terminal outcome
// (matched=true or an error) or passes to the next rule.
var rules = []rule{
	{
		name: "unauthenticated",
		eval: func(_ docs.Document, _ store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if !caller.Authenticated() {
				return Decision{}, false, ErrUnauthenticated
			}
			return Decision{}, false, nil
		},
	},
	{
		name: "admin",
		eval: func(_ docs.Document, _ store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if caller.HasRole(RoleAdmin) {
				return Decision{Granted: true, Level: rbac.LevelEdit}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		// Explicit assignment always wins over role- and mode-based rules,
		// whether recorded on the identity or on the document.
		name: "assignment",
		eval: func(doc docs.Document, _ store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if caller.AssignedTo(doc.ID) || doc.AssignedTo(caller.ID) {
				return Decision{Granted: true, Level: rbac.LevelRead}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		name: "account-entry",
		eval: func(_ docs.Document, record store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if account, ok := record.Account(caller.ID); ok {
				return Decision{Granted: true, Level: rbac.Normalize(account.PermissionLevel)}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		name: "public-mode",
		eval: func(_ docs.Document, record store.PermissionRecord, _ identity.Context) (Decision, bool, error) {
			if record.Visibility == store.VisibilityPublic {
				return Decision{Granted: true, Level: rbac.LevelRead}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		// Restricted mode admits callers whose email domain is allow-listed.
		// A non-matching caller is not rejected here; like account mode, it
		// falls through to the role and delegation rules.
		name: "domain-restricted",
		eval: func(_ docs.Document, record store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if record.Visibility != store.VisibilityRestricted {
				return Decision{}, false, nil
			}
			if domain := caller.EmailDomain(); domain != "" && record.HasDomain(domain) {
				return Decision{Granted: true, Level: rbac.LevelRead}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		// An empty requiredRoles set never matches.
		name: "required-role",
		eval: func(doc docs.Document, _ store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if doc.RequiresRole(caller.HasRole) {
				return Decision{Granted: true, Level: rbac.LevelRead}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		name: "delegated-team",
		eval: func(doc docs.Document, _ store.PermissionRecord, caller identity.Context) (Decision, bool, error) {
			if doc.Team != "" && caller.Delegated(doc.Team) {
				return Decision{Granted: true, Level: rbac.LevelRead}, true, nil
			}
			return Decision{}, false, nil
		},
	},
	{
		name: "forbidden",
		eval: func(docs.Document, store.PermissionRecord, identity.Context) (Decision, bool, error) {
			return Decision{}, false, ErrForbidden
		},
	},
}

// Resolve evaluates the rule chain. It is deterministic, side-effect free and
// performs no I/O. On a grant the returned Decision names the matching rule;
// a denial is ErrUnauthenticated or ErrForbidden.
func Resolve(doc docs.Document, record store.PermissionRecord, caller identity.Context) (Decision, error) {
	for _, r := range rules {
		decision, matched, err := r.eval(doc, record, caller)
		if err != nil {
			return Decision{}, err
		}
		if matched {
			decision.Rule = r.name
			return decision, nil
		}
	}
	return Decision{}, ErrForbidden
}

// RuleOrder exposes the rule names in evaluation order, so tests can pin the
// chain as an artifact.
func RuleOrder() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}
