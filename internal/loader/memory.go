package loader

import (
	"context"
	"sync"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// MemorySource serves collections held in memory, keyed by patient
type MemorySource struct {
	mu       sync.RWMutex
	patients map[string]record.Collections
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{patients: make(map[string]record.Collections)}
}

// Put stores the collections of a patient
func (m *MemorySource) Put(patientID string, c record.Collections) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[patientID] = c
}

// Fetch returns the stored category for a patient; unknown patients have no records
func (m *MemorySource) Fetch(_ context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.patients[patientID]
	return c.For(cat), nil
}
