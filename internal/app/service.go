package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"docvault/api/internal/cache"
	"docvault/api/internal/docs"
	"docvault/api/internal/identity"
	"docvault/api/internal/obs"
	"docvault/api/internal/rbac"
	"docvault/api/internal/store"
	"docvault/api/internal/util"
	"docvault/api/internal/visibility"
)

// emailShape is the local@domain.tld check applied to account permissions
// before any mutation reaches the store.
var emailShape = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// Service validates and applies permission mutations against the store and
// answers read-path questions through the visibility resolver. All mutations
// pass through here; validation failures leave the store untouched.
type Service struct {
	store     store.PermissionStore
	directory docs.Directory
	cache     *cache.RecordCache
	now       func() time.Time
}

func New(permStore store.PermissionStore, directory docs.Directory) *Service {
	return &Service{
		store:     permStore,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewWithCache wires a Redis record cache in front of the store reads.
func NewWithCache(permStore store.PermissionStore, directory docs.Directory, recordCache *cache.RecordCache) *Service {
	s := New(permStore, directory)
	s.cache = recordCache
	return s
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping reports store and cache connectivity for the readiness check.
// In-memory backends have nothing to probe.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// GetPermissions returns the authoritative record, lazily defaulting for
// documents nobody configured yet. Reads go through the cache when one is
// wired; the store remains the source of truth.
func (s *Service) GetPermissions(ctx context.Context, documentID string) (store.PermissionRecord, error) {
	if s.cache != nil {
		if record, ok, err := s.cache.Get(ctx, documentID); err == nil && ok {
			return record, nil
		} else if err != nil {
			log.Printf("record cache read failed for %s: %v", documentID, err)
		}
	}

	record, err := s.store.GetPermissions(ctx, documentID)
	if err != nil {
		return store.PermissionRecord{}, fmt.Errorf("get permissions: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, record); err != nil {
			log.Printf("record cache write failed for %s: %v", documentID, err)
		}
	}
	return record, nil
}

// SetVisibility switches the sharing mode. Switching to public clears the
// domain and account lists atomically with the mode change.
func (s *Service) SetVisibility(ctx context.Context, documentID, rawVisibility, actorID string) (store.PermissionRecord, error) {
	if err := requireActor(actorID); err != nil {
		obs.RecordMutation("set_visibility", "validation_error")
		return store.PermissionRecord{}, err
	}
	if !store.ValidVisibility(rawVisibility) {
		obs.RecordMutation("set_visibility", "validation_error")
		return store.PermissionRecord{}, validationError("visibility must be public, restricted or account")
	}

	record, err := s.store.SetVisibility(ctx, documentID, store.Visibility(rawVisibility), actorID, s.now())
	if err != nil {
		obs.RecordMutation("set_visibility", "error")
		return store.PermissionRecord{}, fmt.Errorf("set visibility: %w", err)
	}
	obs.RecordMutation("set_visibility", "ok")
	s.invalidate(ctx, documentID)
	return record, nil
}

// SetDomainRestrictions replaces the domain allow-list and forces restricted
// mode. Domains are normalized (trim, strip one leading @, lowercase) and
// de-duplicated before storing.
func (s *Service) SetDomainRestrictions(ctx context.Context, documentID string, rawDomains []string, actorID string) (store.PermissionRecord, error) {
	if err := requireActor(actorID); err != nil {
		obs.RecordMutation("set_domains", "validation_error")
		return store.PermissionRecord{}, err
	}
	domains, err := normalizeDomains(rawDomains)
	if err != nil {
		obs.RecordMutation("set_domains", "validation_error")
		return store.PermissionRecord{}, err
	}

	record, err := s.store.SetDomainRestrictions(ctx, documentID, domains, actorID, s.now())
	if err != nil {
		obs.RecordMutation("set_domains", "error")
		return store.PermissionRecord{}, fmt.Errorf("set domain restrictions: %w", err)
	}
	obs.RecordMutation("set_domains", "ok")
	s.invalidate(ctx, documentID)
	return record, nil
}

// SetAccountPermissions replaces the full account list (not a merge), forces
// account mode, and audits one entry per account in the new list. Accounts
// without an id get a server-assigned one.
func (s *Service) SetAccountPermissions(ctx context.Context, documentID string, rawAccounts []store.AccountPermission, actorID string) (store.PermissionRecord, error) {
	if err := requireActor(actorID); err != nil {
		obs.RecordMutation("set_accounts", "validation_error")
		return store.PermissionRecord{}, err
	}
	accounts, err := normalizeAccounts(rawAccounts)
	if err != nil {
		obs.RecordMutation("set_accounts", "validation_error")
		return store.PermissionRecord{}, err
	}

	record, err := s.store.SetAccountPermissions(ctx, documentID, accounts, actorID, s.now())
	if err != nil {
		obs.RecordMutation("set_accounts", "error")
		return store.PermissionRecord{}, fmt.Errorf("set account permissions: %w", err)
	}
	obs.RecordMutation("set_accounts", "ok")
	s.invalidate(ctx, documentID)
	return record, nil
}

// RemoveAccountPermission removes one allow-list entry by id. An absent id is
// a no-op, not an error, and appends no audit entry.
func (s *Service) RemoveAccountPermission(ctx context.Context, documentID, accountID, actorID string) (store.PermissionRecord, error) {
	if err := requireActor(actorID); err != nil {
		obs.RecordMutation("remove_account", "validation_error")
		return store.PermissionRecord{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		obs.RecordMutation("remove_account", "validation_error")
		return store.PermissionRecord{}, validationError("accountId is required")
	}

	record, err := s.store.RemoveAccountPermission(ctx, documentID, accountID, actorID, s.now())
	if err != nil {
		obs.RecordMutation("remove_account", "error")
		return store.PermissionRecord{}, fmt.Errorf("remove account permission: %w", err)
	}
	obs.RecordMutation("remove_account", "ok")
	s.invalidate(ctx, documentID)
	return record, nil
}

// ResolveAccess runs the visibility rule chain for one document and caller.
func (s *Service) ResolveAccess(ctx context.Context, documentID string, caller identity.Context) (visibility.Decision, error) {
	doc, ok, err := s.directory.Get(ctx, documentID)
	if err != nil {
		return visibility.Decision{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return visibility.Decision{}, domainError(404, "NOT_FOUND", "Document not found", nil)
	}

	record, err := s.GetPermissions(ctx, documentID)
	if err != nil {
		return visibility.Decision{}, err
	}

	decision, err := visibility.Resolve(doc, record, caller)
	if err != nil {
		switch {
		case errors.Is(err, visibility.ErrUnauthenticated):
			obs.RecordDecision("unauthenticated", false)
		case errors.Is(err, visibility.ErrForbidden):
			obs.RecordDecision("forbidden", false)
		}
		return visibility.Decision{}, err
	}
	obs.RecordDecision(decision.Rule, true)
	return decision, nil
}

// ListDocuments returns the directory entries visible to the caller, each
// run through the resolver against its permission record.
func (s *Service) ListDocuments(ctx context.Context, caller identity.Context) ([]docs.Document, error) {
	if !caller.Authenticated() {
		return nil, visibility.ErrUnauthenticated
	}

	items, err := s.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	visible := make([]docs.Document, 0, len(items))
	for _, doc := range items {
		record, err := s.GetPermissions(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		decision, err := visibility.Resolve(doc, record, caller)
		if err != nil {
			if errors.Is(err, visibility.ErrForbidden) {
				obs.RecordDecision("forbidden", false)
				continue
			}
			return nil, err
		}
		obs.RecordDecision(decision.Rule, true)
		visible = append(visible, doc)
	}
	return visible, nil
}

func (s *Service) invalidate(ctx context.Context, documentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, documentID); err != nil {
		log.Printf("record cache invalidation failed for %s: %v", documentID, err)
	}
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return validationError("actorId is required")
	}
	return nil
}

// normalizeDomains trims, strips one leading @, lowercases and de-duplicates
// while preserving first-occurrence order. An empty list or a domain without
// a dot is rejected before any state is touched.
func normalizeDomains(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, validationError("domains must not be empty")
	}

	seen := make(map[string]struct{}, len(raw))
	domains := make([]string, 0, len(raw))
	for _, entry := range raw {
		domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(entry), "@"))
		if domain == "" || !strings.Contains(domain, ".") {
			return nil, validationError(fmt.Sprintf("invalid domain %q", entry))
		}
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}
		domains = append(domains, domain)
	}
	return domains, nil
}

// normalizeAccounts validates emails and levels and assigns ids to accounts
// the client left blank (optimistic clients send temporary ids as empty).
func normalizeAccounts(raw []store.AccountPermission) ([]store.AccountPermission, error) {
	if len(raw) == 0 {
		return nil, validationError("accounts must not be empty")
	}

	accounts := make([]store.AccountPermission, 0, len(raw))
	for _, entry := range raw {
		account := store.AccountPermission{
			AccountID:       strings.TrimSpace(entry.AccountID),
			Email:           strings.TrimSpace(entry.Email),
			PermissionLevel: strings.TrimSpace(entry.PermissionLevel),
		}
		if !emailShape.MatchString(account.Email) {
			return nil, validationError(fmt.Sprintf("invalid email %q", entry.Email))
		}
		if !rbac.Valid(account.PermissionLevel) {
			return nil, validationError(fmt.Sprintf("invalid permission level %q", entry.PermissionLevel))
		}
		if account.AccountID == "" {
			account.AccountID = util.NewID("acct")
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}
