// Package selection holds the documents picked for the next task before it is created.
package selection

import (
	"sync"

	"dochub/internal/domain"
)

// Snapshot is an immutable copy of the buffer handed to the task store.
type Snapshot struct {
	Bulk  []domain.FileRef
	Fresh *domain.FileRef
}

// Buffer keeps the pending bulk list and fresh slot. Non-PDF candidates are dropped
// silently and bulk entries are never de-duplicated.
type Buffer struct {
	mu    sync.Mutex
	bulk  []domain.FileRef
	fresh *domain.FileRef
}

func New() *Buffer {
	return &Buffer{}
}

// AddBulk appends the PDF candidates in input order and returns how many were kept.
func (b *Buffer) AddBulk(candidates ...domain.FileRef) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	added := 0
	for _, f := range candidates {
		if !f.IsPDF() {
			continue
		}
		b.bulk = append(b.bulk, f)
		added++
	}
	return added
}

// RemoveBulk drops the entry at index. Out of range indexes are ignored.
func (b *Buffer) RemoveBulk(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.bulk) {
		return false
	}
	b.bulk = append(b.bulk[:index:index], b.bulk[index+1:]...)
	return true
}

// SetFresh replaces the fresh slot with the first PDF among candidates. With no PDF
// candidate (or none at all) the slot becomes empty.
func (b *Buffer) SetFresh(candidates ...domain.FileRef) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fresh = nil
	for _, f := range candidates {
		if f.IsPDF() {
			b.fresh = &f
			return true
		}
	}
	return false
}

// Clear resets both slots.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bulk = nil
	b.fresh = nil
}

// Snapshot copies the current contents.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Bulk: append([]domain.FileRef(nil), b.bulk...)}
	if b.fresh != nil {
		f := *b.fresh
		s.Fresh = &f
	}
	return s
}

// CanCreateTask reports whether the buffer satisfies task creation.
func (b *Buffer) CanCreateTask() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bulk) > 0 && b.fresh != nil
}
