package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe in-memory Store. It is the reference
// implementation of the lifecycle semantics the Postgres store mirrors,
// and what the test suite runs against.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*Notification
	events     []EngagementEvent
	dispatcher Dispatcher
}

// NewMemoryStore creates an empty store. The dispatcher is attached
// separately because it needs the store as its engagement recorder.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Notification)}
}

// SetDispatcher attaches the delivery dispatcher used for immediate and
// sweep dispatch. A nil dispatcher leaves notifications queued.
func (s *MemoryStore) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// Enqueue persists the notification, applying the duplicate window and
// dispatching synchronously when due.
func (s *MemoryStore) Enqueue(ctx context.Context, n *Notification) (string, bool, error) {
	now := time.Now()

	s.mu.Lock()
	// Duplicate window: exact (clinic, type, title) within the trailing
	// 24h. Dismissed records are excluded; dismissing a notification
	// re-opens the window.
	cutoff := now.Add(-DuplicateWindow)
	var dup *Notification
	for _, existing := range s.records {
		if existing.ClinicID != n.ClinicID || existing.Type != n.Type || existing.Title != n.Title {
			continue
		}
		if existing.Dismissed || existing.CreatedAt.Before(cutoff) {
			continue
		}
		if dup == nil || existing.CreatedAt.After(dup.CreatedAt) {
			dup = existing
		}
	}
	if dup != nil {
		s.mu.Unlock()
		return dup.ID, true, nil
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = now.Add(DefaultTTL)
	}
	if n.ExpiresAt.Before(n.CreatedAt) {
		s.mu.Unlock()
		return "", false, fmt.Errorf("enqueue %s: expires_at before created_at", n.ID)
	}

	stored := cloneNotification(n)
	s.records[stored.ID] = stored

	// Fire-and-forget rules are delivered without waiting for the sweep.
	var toDispatch *Notification
	if s.dispatcher != nil && stored.DueAt(now) {
		stored.SentAt = &now
		stored.UpdatedAt = now
		toDispatch = cloneNotification(stored)
	}
	d := s.dispatcher
	s.mu.Unlock()

	if toDispatch != nil {
		d.Dispatch(ctx, toDispatch)
	}
	return stored.ID, false, nil
}

// ProcessScheduled dispatches due scheduled notifications, oldest first.
// Without a dispatcher there is nowhere to deliver, so due notifications
// stay queued.
func (s *MemoryStore) ProcessScheduled(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	if s.dispatcher == nil {
		s.mu.Unlock()
		return 0, nil
	}
	var due []*Notification
	for _, n := range s.records {
		if n.SentAt != nil || n.ScheduledFor == nil || n.ScheduledFor.After(now) {
			continue
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})
	if len(due) > ScheduledBatchSize {
		due = due[:ScheduledBatchSize]
	}

	batch := make([]*Notification, 0, len(due))
	for _, n := range due {
		sent := now
		n.SentAt = &sent
		n.UpdatedAt = now
		batch = append(batch, cloneNotification(n))
	}
	d := s.dispatcher
	s.mu.Unlock()

	for _, n := range batch {
		d.Dispatch(ctx, n)
	}
	return len(batch), nil
}

// MarkRead sets read_at once. Reading an unsent or already-read
// notification is a no-op.
func (s *MemoryStore) MarkRead(ctx context.Context, id, clinicID string) error {
	s.mu.Lock()
	n, ok := s.records[id]
	if !ok || n.ClinicID != clinicID {
		s.mu.Unlock()
		return ErrNotFound
	}
	if n.SentAt == nil || n.ReadAt != nil {
		s.mu.Unlock()
		return nil
	}
	now := time.Now()
	if now.Before(*n.SentAt) {
		now = *n.SentAt
	}
	n.ReadAt = &now
	n.UpdatedAt = now
	s.mu.Unlock()

	return s.AppendEngagement(ctx, EngagementEvent{
		NotificationID: id, ClinicID: clinicID,
		Action: ActionRead, OccurredAt: now,
	})
}

// Dismiss flags the notification dismissed once. Independent of read state.
func (s *MemoryStore) Dismiss(ctx context.Context, id, clinicID string) error {
	s.mu.Lock()
	n, ok := s.records[id]
	if !ok || n.ClinicID != clinicID {
		s.mu.Unlock()
		return ErrNotFound
	}
	if n.Dismissed {
		s.mu.Unlock()
		return nil
	}
	now := time.Now()
	n.Dismissed = true
	n.UpdatedAt = now
	s.mu.Unlock()

	return s.AppendEngagement(ctx, EngagementEvent{
		NotificationID: id, ClinicID: clinicID,
		Action: ActionDismissed, OccurredAt: now,
	})
}

// GetForClinic lists notifications newest first.
func (s *MemoryStore) GetForClinic(ctx context.Context, clinicID string, opts ListOptions) ([]Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()

	s.mu.Lock()
	var out []Notification
	for _, n := range s.records {
		if n.ClinicID != clinicID {
			continue
		}
		if opts.Category != "" && n.Category != opts.Category {
			continue
		}
		if opts.UnreadOnly && (n.ReadAt != nil || n.Dismissed) {
			continue
		}
		if !opts.IncludeExpired && n.Expired(now) {
			continue
		}
		out = append(out, *cloneNotification(n))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CleanupExpired deletes records past expiry and older than the retention
// floor.
func (s *MemoryStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	floor := now.Add(-RetentionFloor)
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.records {
		if n.ExpiresAt.Before(now) && n.CreatedAt.Before(floor) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Stats aggregates engagement over the trailing window.
func (s *MemoryStore) Stats(ctx context.Context, clinicID string, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{ClinicID: clinicID, Days: days}
	for _, ev := range s.events {
		if ev.ClinicID != clinicID || ev.OccurredAt.Before(since) {
			continue
		}
		switch ev.Action {
		case ActionSent:
			st.TotalSent++
		case ActionRead:
			st.TotalRead++
		case ActionDismissed:
			st.TotalDismissed++
		}
	}
	if st.TotalSent > 0 {
		st.ReadRate = float64(st.TotalRead) / float64(st.TotalSent)
	}

	var totalResponse time.Duration
	var responses int
	byCategory := make(map[string]int)
	for _, n := range s.records {
		if n.ClinicID != clinicID || n.CreatedAt.Before(since) {
			continue
		}
		byCategory[n.Category]++
		if n.SentAt != nil && n.ReadAt != nil {
			totalResponse += n.ReadAt.Sub(*n.SentAt)
			responses++
		}
	}
	if responses > 0 {
		st.AvgResponseTimeMinutes = totalResponse.Minutes() / float64(responses)
	}
	st.TopCategories = topCategories(byCategory, 5)
	return st, nil
}

// CategoryTriggeredSince is the cooldown lookup: derived from notification
// rows, no separate cooldown table.
func (s *MemoryStore) CategoryTriggeredSince(ctx context.Context, clinicID, category string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.records {
		if n.ClinicID == clinicID && n.Category == category && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// AppendEngagement records an audit event.
func (s *MemoryStore) AppendEngagement(ctx context.Context, ev EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the engagement log, newest last.
func (s *MemoryStore) Events() []EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EngagementEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Get returns a copy of one record.
func (s *MemoryStore) Get(id string) (*Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return cloneNotification(n), true
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func cloneNotification(n *Notification) *Notification {
	c := *n
	if n.ScheduledFor != nil {
		t := *n.ScheduledFor
		c.ScheduledFor = &t
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return &c
}

func topCategories(counts map[string]int, limit int) []CategoryCount {
	out := make([]CategoryCount, 0, len(counts))
	for cat, n := range counts {
		out = append(out, CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
