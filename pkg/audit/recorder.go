package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrEntryNotFound is returned by readers when no entry has the requested id
var ErrEntryNotFound = errors.New("audit entry not found")

// Recorder appends audit entries. Entries are never updated or deleted.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
	Close() error
}

// Reader queries recorded entries
type Reader interface {
	Search(ctx context.Context, filter Filter) ([]*Entry, error)
	Get(ctx context.Context, org string, id int64) (*Entry, error)
	Stats(ctx context.Context, org string, since, until *time.Time) (*Stats, error)
}

// NopRecorder discards every entry
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, entry *Entry) error { return nil }
func (NopRecorder) Close() error                                   { return nil }

// MemoryRecorder keeps entries in process. It is used by tests and the
// in-memory server mode.
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{now: time.Now}
}

// Record appends a copy of the entry and assigns its id
func (m *MemoryRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now().UTC()
	}
	entry.ID = int64(len(m.entries) + 1)

	stored := *entry
	if entry.PermissionDetails != nil {
		stored.PermissionDetails = make(map[string]interface{}, len(entry.PermissionDetails))
		for k, v := range entry.PermissionDetails {
			stored.PermissionDetails[k] = v
		}
	}
	m.entries = append(m.entries, &stored)
	return nil
}

// Close is a no-op
func (m *MemoryRecorder) Close() error { return nil }

// Len returns the number of recorded entries
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Search returns matching entries, newest first
func (m *MemoryRecorder) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	if filter.OrganizationID == "" {
		return nil, errors.New("organization is required")
	}

	m.mu.RLock()
	var out []*Entry
	for _, e := range m.entries {
		if filter.matches(e) {
			c := *e
			out = append(out, &c)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Entry{}, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []*Entry{}
	}
	return out, nil
}

// Get returns one entry of the organization
func (m *MemoryRecorder) Get(ctx context.Context, org string, id int64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 1 || int(id) > len(m.entries) || m.entries[id-1].OrganizationID != org {
		return nil, fmt.Errorf("%d: %w", id, ErrEntryNotFound)
	}
	c := *m.entries[id-1]
	return &c, nil
}

// Stats counts the organization's entries in the time range
func (m *MemoryRecorder) Stats(ctx context.Context, org string, since, until *time.Time) (*Stats, error) {
	filter := Filter{OrganizationID: org, StartTime: since, EndTime: until}
	stats := newStats(org)
	stats.TimeRange = timeRange(since, until)

	actors := make(map[string]struct{})
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if !filter.matches(e) {
			continue
		}
		stats.TotalEntries++
		stats.EntriesByOperation[e.OperationType]++
		stats.EntriesByResult[e.Result]++
		stats.EntriesByTarget[e.TargetType]++
		if e.Actor != "" {
			actors[e.Actor] = struct{}{}
		}
	}
	stats.UniqueActors = int64(len(actors))
	return stats, nil
}

func (f Filter) matches(e *Entry) bool {
	if e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.TargetUser != "" && e.TargetUser != f.TargetUser {
		return false
	}
	if len(f.OperationTypes) > 0 {
		found := false
		for _, op := range f.OperationTypes {
			if e.OperationType == op {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.TargetType != "" && e.TargetType != f.TargetType {
		return false
	}
	if f.ContentType != "" && e.ContentType != f.ContentType {
		return false
	}
	if f.ObjectID != "" && e.ObjectID != f.ObjectID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	return true
}

func timeRange(since, until *time.Time) *TimeRange {
	if since == nil && until == nil {
		return nil
	}
	tr := &TimeRange{}
	if since != nil {
		tr.Start = *since
	}
	if until != nil {
		tr.End = *until
	}
	return tr
}

// MultiRecorder writes every entry to each recorder in turn
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder creates a recorder fanning out to the given recorders
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record writes to every recorder and returns the first error
func (m *MultiRecorder) Record(ctx context.Context, entry *Entry) error {
	var firstErr error
	for _, r := range m.recorders {
		if err := r.Record(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every recorder and returns the first error
func (m *MultiRecorder) Close() error {
	var firstErr error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
