package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetPermissionsLazyDefault(t *testing.T) {
	s := NewMemoryStore(0)
	record, err := s.GetPermissions(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if record.DocumentID != "doc-1" {
		t.Fatalf("DocumentID = %q", record.DocumentID)
	}
	if record.Visibility != VisibilityRestricted {
		t.Fatalf("default visibility = %q, want restricted", record.Visibility)
	}
	if len(record.Domains) != 0 || len(record.Accounts) != 0 || len(record.AuditTrail) != 0 {
		t.Fatalf("default record is not empty: %+v", record)
	}
	if record.Domains == nil || record.Accounts == nil || record.AuditTrail == nil {
		t.Fatal("default record lists must be non-nil so they encode as []")
	}
}

func TestSetVisibilityPublicClearsLists(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now()

	if _, err := s.SetDomainRestrictions(ctx, "doc-1", []string{"example.com"}, "actor-1", now); err != nil {
		t.Fatalf("SetDomainRestrictions failed: %v", err)
	}
	if _, err := s.SetAccountPermissions(ctx, "doc-1", []AccountPermission{
		{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit"},
	}, "actor-1", now); err != nil {
		t.Fatalf("SetAccountPermissions failed: %v", err)
	}

	record, err := s.SetVisibility(ctx, "doc-1", VisibilityPublic, "actor-1", now)
	if err != nil {
		t.Fatalf("SetVisibility failed: %v", err)
	}
	if record.Visibility != VisibilityPublic {
		t.Fatalf("visibility = %q, want public", record.Visibility)
	}
	if len(record.Domains) != 0 || len(record.Accounts) != 0 {
		t.Fatalf("switching to public must clear both lists, got %+v", record)
	}
}

func TestSetDomainRestrictionsForcesRestricted(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	if _, err := s.SetVisibility(ctx, "doc-1", VisibilityPublic, "actor-1", time.Now()); err != nil {
		t.Fatalf("SetVisibility failed: %v", err)
	}
	record, err := s.SetDomainRestrictions(ctx, "doc-1", []string{"example.com", "corp.io"}, "actor-1", time.Now())
	if err != nil {
		t.Fatalf("SetDomainRestrictions failed: %v", err)
	}
	if record.Visibility != VisibilityRestricted {
		t.Fatalf("visibility = %q, want restricted", record.Visibility)
	}
	if !record.HasDomain("corp.io") || !record.HasDomain("example.com") {
		t.Fatalf("domains = %v", record.Domains)
	}
}

func TestSetAccountPermissionsAppendsAudit(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 16, 10, 0, 0, time.UTC)

	if _, err := s.SetDomainRestrictions(ctx, "doc-1", []string{"example.com"}, "actor-0", now.Add(-time.Hour)); err != nil {
		t.Fatalf("SetDomainRestrictions failed: %v", err)
	}

	record, err := s.SetAccountPermissions(ctx, "doc-1", []AccountPermission{
		{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit"},
	}, "actor-1", now)
	if err != nil {
		t.Fatalf("SetAccountPermissions failed: %v", err)
	}

	if record.Visibility != VisibilityAccount {
		t.Fatalf("visibility = %q, want account", record.Visibility)
	}
	// Replacing the account list leaves the dormant domain list untouched.
	if !record.HasDomain("example.com") {
		t.Fatalf("domains = %v, want example.com preserved", record.Domains)
	}
	if len(record.Accounts) != 1 || record.Accounts[0].AccountID != "a1" {
		t.Fatalf("accounts = %+v", record.Accounts)
	}
	if len(record.AuditTrail) != 1 {
		t.Fatalf("audit trail length = %d, want 1", len(record.AuditTrail))
	}
	entry := record.AuditTrail[0]
	if entry.AccountID != "a1" || entry.Email != "x@y.com" || entry.PermissionLevel != "edit" {
		t.Fatalf("audit entry = %+v", entry)
	}
	if entry.UpdatedBy != "actor-1" || !entry.UpdatedAt.Equal(now) {
		t.Fatalf("audit attribution = %+v", entry)
	}
}

func TestAuditEntriesShareOneTimestampAndCapAtMax(t *testing.T) {
	s := NewMemoryStore(50)
	ctx := context.Background()

	// One batch of three accounts: exactly three entries, identical timestamp.
	batchTime := time.Now().UTC()
	batch := []AccountPermission{
		{AccountID: "a1", Email: "a1@x.com", PermissionLevel: "read"},
		{AccountID: "a2", Email: "a2@x.com", PermissionLevel: "comment"},
		{AccountID: "a3", Email: "a3@x.com", PermissionLevel: "edit"},
	}
	record, err := s.SetAccountPermissions(ctx, "doc-1", batch, "actor-1", batchTime)
	if err != nil {
		t.Fatalf("SetAccountPermissions failed: %v", err)
	}
	if len(record.AuditTrail) != 3 {
		t.Fatalf("audit trail length = %d, want 3", len(record.AuditTrail))
	}
	for _, entry := range record.AuditTrail {
		if !entry.UpdatedAt.Equal(batchTime) {
			t.Fatalf("entry timestamp %v differs from batch time %v", entry.UpdatedAt, batchTime)
		}
	}

	// Push the trail past the cap; the oldest entries fall off first.
	for i := 0; i < 60; i++ {
		ts := batchTime.Add(time.Duration(i+1) * time.Second)
		accounts := []AccountPermission{{
			AccountID:       fmt.Sprintf("acct-%02d", i),
			Email:           fmt.Sprintf("u%02d@x.com", i),
			PermissionLevel: "read",
		}}
		if record, err = s.SetAccountPermissions(ctx, "doc-1", accounts, "actor-1", ts); err != nil {
			t.Fatalf("SetAccountPermissions %d failed: %v", i, err)
		}
	}
	if len(record.AuditTrail) != 50 {
		t.Fatalf("audit trail length = %d, want cap 50", len(record.AuditTrail))
	}
	if record.AuditTrail[0].AccountID != "acct-59" {
		t.Fatalf("newest entry = %q, want acct-59 first", record.AuditTrail[0].AccountID)
	}
	for i := 1; i < len(record.AuditTrail); i++ {
		if record.AuditTrail[i].UpdatedAt.After(record.AuditTrail[i-1].UpdatedAt) {
			t.Fatalf("audit trail not newest-first at index %d", i)
		}
	}
}

func TestRestrictedToAccountScenario(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.SetDomainRestrictions(ctx, "doc-1", []string{"example.com"}, "actor-0", now.Add(-time.Minute)); err != nil {
		t.Fatalf("SetDomainRestrictions failed: %v", err)
	}
	// Drop the setup's audit noise expectation: domain changes do not audit.
	before, _ := s.GetPermissions(ctx, "doc-1")
	if len(before.AuditTrail) != 0 {
		t.Fatalf("domain mutation appended audit entries: %+v", before.AuditTrail)
	}

	record, err := s.SetAccountPermissions(ctx, "doc-1", []AccountPermission{
		{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit"},
	}, "actor-1", now)
	if err != nil {
		t.Fatalf("SetAccountPermissions failed: %v", err)
	}

	if record.Visibility != VisibilityAccount {
		t.Fatalf("visibility = %q", record.Visibility)
	}
	if len(record.Domains) != 1 || record.Domains[0] != "example.com" {
		t.Fatalf("domains = %v", record.Domains)
	}
	if len(record.Accounts) != 1 || record.Accounts[0] != (AccountPermission{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit"}) {
		t.Fatalf("accounts = %+v", record.Accounts)
	}
	want := AuditEntry{AccountID: "a1", Email: "x@y.com", PermissionLevel: "edit", UpdatedAt: now, UpdatedBy: "actor-1"}
	if len(record.AuditTrail) != 1 || record.AuditTrail[0] != want {
		t.Fatalf("audit trail = %+v, want [%+v]", record.AuditTrail, want)
	}
}

func TestRemoveAccountPermission(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.SetAccountPermissions(ctx, "doc-1", []AccountPermission{
		{AccountID: "a1", Email: "a1@x.com", PermissionLevel: "edit"},
		{AccountID: "a2", Email: "a2@x.com", PermissionLevel: "read"},
	}, "actor-1", now); err != nil {
		t.Fatalf("SetAccountPermissions failed: %v", err)
	}

	record, err := s.RemoveAccountPermission(ctx, "doc-1", "a1", "actor-2", now.Add(time.Second))
	if err != nil {
		t.Fatalf("RemoveAccountPermission failed: %v", err)
	}
	if len(record.Accounts) != 1 || record.Accounts[0].AccountID != "a2" {
		t.Fatalf("accounts after removal = %+v", record.Accounts)
	}
	if len(record.AuditTrail) != 3 {
		t.Fatalf("audit trail length = %d, want 3", len(record.AuditTrail))
	}
	if record.AuditTrail[0].AccountID != "a1" || record.AuditTrail[0].UpdatedBy != "actor-2" {
		t.Fatalf("removal audit entry = %+v", record.AuditTrail[0])
	}
}

func TestRemoveAccountPermissionMissingIsNoOp(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.SetAccountPermissions(ctx, "doc-1", []AccountPermission{
		{AccountID: "a1", Email: "a1@x.com", PermissionLevel: "edit"},
	}, "actor-1", now); err != nil {
		t.Fatalf("SetAccountPermissions failed: %v", err)
	}
	before, _ := s.GetPermissions(ctx, "doc-1")

	record, err := s.RemoveAccountPermission(ctx, "doc-1", "missing-id", "actor-1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("RemoveAccountPermission failed: %v", err)
	}
	if len(record.Accounts) != len(before.Accounts) {
		t.Fatalf("no-op removal changed accounts: %+v", record.Accounts)
	}
	if len(record.AuditTrail) != len(before.AuditTrail) {
		t.Fatalf("no-op removal appended an audit entry: %+v", record.AuditTrail)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	record, err := s.SetDomainRestrictions(ctx, "doc-1", []string{"example.com"}, "actor-1", time.Now())
	if err != nil {
		t.Fatalf("SetDomainRestrictions failed: %v", err)
	}
	record.Domains[0] = "tampered.com"

	fresh, _ := s.GetPermissions(ctx, "doc-1")
	if fresh.Domains[0] != "example.com" {
		t.Fatal("mutating a returned record leaked into the store")
	}
}

func TestConcurrentMutationsSerializePerDocument(t *testing.T) {
	s := NewMemoryStore(200)
	ctx := context.Background()

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				accounts := []AccountPermission{{
					AccountID:       fmt.Sprintf("w%d-i%d", w, i),
					Email:           fmt.Sprintf("w%d@x.com", w),
					PermissionLevel: "read",
				}}
				if _, err := s.SetAccountPermissions(ctx, "doc-shared", accounts, fmt.Sprintf("actor-%d", w), time.Now()); err != nil {
					t.Errorf("SetAccountPermissions failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	record, err := s.GetPermissions(ctx, "doc-shared")
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	// Every mutation fully replaced the list, so the final record holds
	// exactly the last writer's single account and one audit entry per write.
	if len(record.Accounts) != 1 {
		t.Fatalf("accounts = %+v, want exactly one (interleaved partial write?)", record.Accounts)
	}
	if len(record.AuditTrail) != writers*perWriter {
		t.Fatalf("audit trail length = %d, want %d", len(record.AuditTrail), writers*perWriter)
	}
}
