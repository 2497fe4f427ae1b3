package kds

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Additional-Code/kds/internal/cache"
	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/internal/pos"
	repo "github.com/Additional-Code/kds/internal/repository/order"
)

// memStore backs every service slice with one in-memory order set so the
// handlers are exercised end to end against real service code.
type memStore struct {
	mu     sync.Mutex
	orders map[int64]*entity.Order
	nextID int64
}

func newMemStore(orders ...*entity.Order) *memStore {
	s := &memStore{orders: make(map[int64]*entity.Order)}
	for _, o := range orders {
		if o.ID == 0 {
			s.nextID++
			o.ID = s.nextID
		} else if o.ID > s.nextID {
			s.nextID = o.ID
		}
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id int64) (*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, order *entity.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return repo.ErrNotFound
	}
	clone := *order
	s.orders[order.ID] = &clone
	return nil
}

func (s *memStore) ListActive(_ context.Context, since time.Time) ([]*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Order
	for _, o := range s.orders {
		if o.Status.Terminal() || o.OrderTime.Before(since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderTime.Before(out[j].OrderTime) })
	return out, nil
}

func (s *memStore) ListCompletedSince(_ context.Context, since time.Time, limit int) ([]*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Order
	for _, o := range s.orders {
		if o.Status != entity.StatusCompleted || o.CompletedAt == nil || o.CompletedAt.Before(since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountActive(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *memStore) LatestCreatedAt(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, o := range s.orders {
		if o.CreatedAt.After(latest) {
			latest = o.CreatedAt
		}
	}
	return latest, nil
}

func (s *memStore) LatestOrderTime(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, o := range s.orders {
		if o.OrderTime.After(latest) {
			latest = o.OrderTime
		}
	}
	return latest, nil
}

func (s *memStore) ExistsByTicket(_ context.Context, ticketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.SourceTicketID == ticketID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateWithItems(_ context.Context, order *entity.Order, items []*entity.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.SourceTicketID == order.SourceTicketID {
			return repo.ErrDuplicateTicket
		}
	}
	s.nextID++
	order.ID = s.nextID
	order.Items = items
	s.orders[order.ID] = order
	return nil
}

func (s *memStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, o := range s.orders {
		anchor := o.UpdatedAt
		if o.CompletedAt != nil {
			anchor = *o.CompletedAt
		}
		if o.Status.Terminal() && anchor.Before(cutoff) {
			delete(s.orders, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) CompleteActive(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var transitioned int64
	for _, o := range s.orders {
		if o.Status.Terminal() {
			continue
		}
		o.Status = entity.StatusCompleted
		stamp := now
		if o.ViewedAt == nil {
			o.ViewedAt = &stamp
		}
		if o.StartedAt == nil {
			o.StartedAt = &stamp
		}
		if o.ReadyAt == nil {
			o.ReadyAt = &stamp
		}
		o.CompletedAt = &stamp
		transitioned++
	}
	return transitioned, nil
}

// memLedger is a canned POS ledger for scan endpoints.
type memLedger struct {
	tickets []pos.Ticket
	lines   map[string][]pos.TicketLine
	err     error
	pingErr error
}

func (l *memLedger) RecentTickets(_ context.Context, since time.Time, category string, limit int) ([]pos.Ticket, error) {
	if l.err != nil {
		return nil, l.err
	}
	var out []pos.Ticket
	for _, t := range l.tickets {
		if !t.RecordedAt.After(since) {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *memLedger) Lines(_ context.Context, ticketID string) ([]pos.TicketLine, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.lines[ticketID], nil
}

func (l *memLedger) Ping(context.Context) error { return l.pingErr }

// memCache is a map-backed cache store.
type memCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}
