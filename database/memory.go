package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	addresses  *memoryAddresses
	deliveries *memoryDeliveries
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(policy SourcePolicy) *MemoryStore {
	return &MemoryStore{
		addresses:  &memoryAddresses{policy: policy, byEmail: make(map[string]*memoryAddress), now: utcNow},
		deliveries: &memoryDeliveries{now: utcNow},
	}
}

// WithClock overrides the time source; tests use it to get deterministic ordering.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.addresses.mu.Lock()
	s.addresses.now = now
	s.addresses.mu.Unlock()
	s.deliveries.mu.Lock()
	s.deliveries.now = now
	s.deliveries.mu.Unlock()
	return s
}

func (s *MemoryStore) Addresses() AddressDirectory { return s.addresses }
func (s *MemoryStore) Deliveries() DeliveryLog     { return s.deliveries }

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

// Records returns a snapshot of every delivery record in append order.
func (s *MemoryStore) Records() []DeliveryRecord {
	s.deliveries.mu.Lock()
	defer s.deliveries.mu.Unlock()
	return append([]DeliveryRecord(nil), s.deliveries.records...)
}

func utcNow() time.Time { return time.Now().UTC() }

type memoryAddress struct {
	rec AddressRecord
	seq int
}

type memoryAddresses struct {
	mu      sync.Mutex
	policy  SourcePolicy
	byEmail map[string]*memoryAddress
	seq     int
	now     func() time.Time
}

func (r *memoryAddresses) Upsert(_ context.Context, email string, source Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(email)
	now := r.now()

	if existing, ok := r.byEmail[key]; ok {
		existing.rec.LastUsedAt = &now
		if r.policy != SourceFirstSeen {
			existing.rec.Source = source
		}
		return nil
	}

	r.seq++
	r.byEmail[key] = &memoryAddress{
		seq: r.seq,
		rec: AddressRecord{
			ID:         uuid.NewString(),
			Email:      key,
			Source:     source,
			CreatedAt:  now,
			LastUsedAt: &now,
		},
	}
	return nil
}

func (r *memoryAddresses) TouchLastUsed(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byEmail[NormalizeEmail(email)]; ok {
		now := r.now()
		existing.rec.LastUsedAt = &now
	}
	return nil
}

func (r *memoryAddresses) List(_ context.Context, filter AddressFilter) ([]AddressRecord, int, error) {
	r.mu.Lock()
	matched := make([]memoryAddress, 0, len(r.byEmail))
	for _, a := range r.byEmail {
		if filter.Source == "" || a.rec.Source == filter.Source {
			matched = append(matched, *a)
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].rec.CreatedAt.Equal(matched[j].rec.CreatedAt) {
			return matched[i].rec.CreatedAt.After(matched[j].rec.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	_, size := filter.normalized()
	start := min(filter.offset(), len(matched))
	end := start + min(size, len(matched)-start)

	records := make([]AddressRecord, 0, end-start)
	for _, a := range matched[start:end] {
		records = append(records, a.rec)
	}
	return records, len(matched), nil
}

type memoryDeliveries struct {
	mu      sync.Mutex
	records []DeliveryRecord
	now     func() time.Time
}

func (r *memoryDeliveries) Append(_ context.Context, rec DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memoryDeliveries) List(_ context.Context, filter DeliveryFilter) ([]DeliveryRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := []DeliveryRecord{}
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := r.records[i]
		if !rec.CreatedAt.Before(filter.Since) && rec.CreatedAt.Before(filter.Until) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryDeliveries) CountByStatus(_ context.Context, since, until time.Time) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Status]int)
	for _, rec := range r.records {
		if !rec.CreatedAt.Before(since) && rec.CreatedAt.Before(until) {
			counts[rec.Status]++
		}
	}
	return counts, nil
}
