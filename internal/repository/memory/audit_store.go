package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go-pcg-core/internal/model"
)

// AuditStore keeps the most recent entries in memory, dropping the oldest past capacity.
type AuditStore struct {
	mu       sync.Mutex
	entries  []model.AuditEntry
	capacity int
}

func NewAuditStore(capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &AuditStore{capacity: capacity}
}

func (s *AuditStore) Log(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if overflow := len(s.entries) - s.capacity; overflow > 0 {
		s.entries = append([]model.AuditEntry(nil), s.entries[overflow:]...)
	}
	return nil
}

func (s *AuditStore) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	action := strings.ToLower(strings.TrimSpace(query.Action))
	status := strings.ToLower(strings.TrimSpace(query.Status))
	actorID := strings.TrimSpace(query.ActorID)

	s.mu.Lock()
	items := make([]model.AuditEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if action != "" && strings.ToLower(entry.Action) != action {
			continue
		}
		if status != "" && strings.ToLower(entry.Status) != status {
			continue
		}
		if actorID != "" && entry.ActorID != actorID {
			continue
		}
		if !query.From.IsZero() && entry.OccurredAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && entry.OccurredAt.After(query.To) {
			continue
		}
		items = append(items, entry)
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i int, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})

	total := len(items)
	start := min((query.Page-1)*query.Limit, total)
	end := min(start+query.Limit, total)

	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}

	meta := model.Meta{Page: query.Page, Limit: query.Limit, Total: total, TotalPages: totalPages}
	return items[start:end], meta, nil
}
