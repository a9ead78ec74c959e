package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps permission records in process memory. Each document id
// owns its own mutex, so mutations to the same document serialize while
// mutations to different documents proceed independently.
type MemoryStore struct {
	mu       sync.Mutex // guards records map shape only
	records  map[string]*memoryRecord
	auditMax int
}

type memoryRecord struct {
	mu     sync.Mutex
	record PermissionRecord
}

func NewMemoryStore(auditMax int) *MemoryStore {
	if auditMax <= 0 {
		auditMax = DefaultAuditTrailMax
	}
	return &MemoryStore{
		records:  make(map[string]*memoryRecord),
		auditMax: auditMax,
	}
}

// entry returns the per-document slot, creating the default record lazily.
func (s *MemoryStore) entry(documentID string) *memoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.records[documentID]
	if !ok {
		slot = &memoryRecord{record: DefaultRecord(documentID)}
		s.records[documentID] = slot
	}
	return slot
}

func (s *MemoryStore) GetPermissions(_ context.Context, documentID string) (PermissionRecord, error) {
	slot := s.entry(documentID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.record.Clone(), nil
}

func (s *MemoryStore) SetVisibility(_ context.Context, documentID string, visibility Visibility, _ string, _ time.Time) (PermissionRecord, error) {
	slot := s.entry(documentID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	applySetVisibility(&slot.record, visibility)
	return slot.record.Clone(), nil
}

func (s *MemoryStore) SetDomainRestrictions(_ context.Context, documentID string, domains []string, _ string, _ time.Time) (PermissionRecord, error) {
	slot := s.entry(documentID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	applySetDomains(&slot.record, domains)
	return slot.record.Clone(), nil
}

func (s *MemoryStore) SetAccountPermissions(_ context.Context, documentID string, accounts []AccountPermission, actorID string, now time.Time) (PermissionRecord, error) {
	slot := s.entry(documentID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	applySetAccounts(&slot.record, accounts, actorID, now, s.auditMax)
	return slot.record.Clone(), nil
}

func (s *MemoryStore) RemoveAccountPermission(_ context.Context, documentID, accountID, actorID string, now time.Time) (PermissionRecord, error) {
	slot := s.entry(documentID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	applyRemoveAccount(&slot.record, accountID, actorID, now, s.auditMax)
	return slot.record.Clone(), nil
}
