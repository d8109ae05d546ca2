package document

import (
	"time"

	"github.com/google/uuid"
)

// Document is the persistent document model shared by every store backend and
// by the editor client.
type Document struct {
	ID        string    `json:"id" bson:"id"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Snapshot is the editable part of a document at one point in time.
type Snapshot struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Snapshot returns the editable fields of d.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{Title: d.Title, Content: d.Content}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// PatchFrom builds a patch that writes both fields of s.
func PatchFrom(s Snapshot) Patch {
	title, content := s.Title, s.Content
	return Patch{Title: &title, Content: &content}
}

// Apply merges p into d and sets UpdatedAt via NextUpdatedAt.
func (p Patch) Apply(d *Document, now time.Time) {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
	d.UpdatedAt = NextUpdatedAt(d.UpdatedAt, now)
}

// NewID returns a fresh document identifier.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time in the precision stored by every backend.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NextUpdatedAt returns the timestamp for a write that follows prev. The
// result is always strictly after prev so updatedAt never stands still.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// Stamp prepares a new document for insertion: it assigns an id when missing
// and sets both timestamps to now.
func Stamp(d *Document, now time.Time) {
	if d.ID == "" {
		d.ID = NewID()
	}
	now = now.UTC().Truncate(time.Millisecond)
	d.CreatedAt = now
	d.UpdatedAt = now
}
