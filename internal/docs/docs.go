// Package docs adapts the external document subsystem. The permission core
// only reads document metadata; ownership of the documents themselves stays
// with the collaborator that feeds this directory.
package docs

import (
	"context"
	"sort"
	"sync"
)

// Document is the read-only metadata the resolver needs.
type Document struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Team            string   `json:"team"`
	RequiredRoles   []string `json:"requiredRoles"`
	AssignedUserIDs []string `json:"-"`
}

func (d Document) RequiresRole(has func(string) bool) bool {
	for _, role := range d.RequiredRoles {
		if has(role) {
			return true
		}
	}
	return false
}

func (d Document) AssignedTo(userID string) bool {
	for _, id := range d.AssignedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Directory is the document subsystem surface consumed by this core.
type Directory interface {
	Get(ctx context.Context, documentID string) (Document, bool, error)
	List(ctx context.Context) ([]Document, error)
}

// MemoryDirectory is a seeded in-memory Directory for dev and tests.
type MemoryDirectory struct {
	mu        sync.RWMutex
	documents map[string]Document
}

func NewMemoryDirectory(documents ...Document) *MemoryDirectory {
	dir := &MemoryDirectory{documents: make(map[string]Document, len(documents))}
	for _, doc := range documents {
		dir.documents[doc.ID] = doc
	}
	return dir
}

func (d *MemoryDirectory) Put(doc Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.documents[doc.ID] = doc
}

func (d *MemoryDirectory) Get(_ context.Context, documentID string) (Document, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.documents[documentID]
	return doc, ok, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	items := make([]Document, 0, len(d.documents))
	for _, doc := range d.documents {
		items = append(items, doc)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// SeedDemoDocuments returns the demo corpus used when no external directory
// is wired in.
func SeedDemoDocuments() []Document {
	return []Document{
		{
			ID:              "doc-employee-handbook",
			Title:           "Employee Handbook",
			Team:            "people",
			RequiredRoles:   []string{"employee"},
			AssignedUserIDs: []string{"user-alice"},
		},
		{
			ID:            "doc-north-ops",
			Title:         "Northern Operations Plan",
			Team:          "north",
			RequiredRoles: []string{"operations"},
		},
		{
			ID:            "doc-south-ops",
			Title:         "Southern Operations Plan",
			Team:          "south",
			RequiredRoles: []string{"operations"},
		},
		{
			ID:              "doc-finance-plan",
			Title:           "Finance Q1 Plan",
			Team:            "finance",
			RequiredRoles:   []string{"finance"},
			AssignedUserIDs: []string{"user-bob"},
		},
	}
}
