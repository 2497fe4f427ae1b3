package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/internal/pos"
	repo "github.com/Additional-Code/kds/internal/repository/order"
)

// memLedger is an in-memory stand-in for the POS ledger.
type memLedger struct {
	mu        sync.Mutex
	tickets   []pos.Ticket
	lines     map[string][]pos.TicketLine
	ticketErr error
	lineErr   map[string]error
	lastSince time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{
		lines:   make(map[string][]pos.TicketLine),
		lineErr: make(map[string]error),
	}
}

func (l *memLedger) addTicket(t pos.Ticket, lines ...pos.TicketLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickets = append(l.tickets, t)
	l.lines[t.ID] = lines
}

func (l *memLedger) RecentTickets(_ context.Context, since time.Time, category string, limit int) ([]pos.Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSince = since
	if l.ticketErr != nil {
		return nil, l.ticketErr
	}
	var out []pos.Ticket
	for _, t := range l.tickets {
		if !t.RecordedAt.After(since) {
			continue
		}
		qualifies := false
		for _, line := range l.lines[t.ID] {
			if line.Category == category {
				qualifies = true
				break
			}
		}
		if !qualifies {
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
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.lineErr[ticketID]; err != nil {
		return nil, err
	}
	return l.lines[ticketID], nil
}

// memStore is an in-memory order store enforcing ticket uniqueness the way
// the real unique index does.
type memStore struct {
	mu     sync.Mutex
	orders map[string]*entity.Order
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*entity.Order)}
}

func (s *memStore) LatestOrderTime(context.Context) (time.Time, error) {
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
	_, ok := s.orders[ticketID]
	return ok, nil
}

func (s *memStore) CreateWithItems(_ context.Context, order *entity.Order, items []*entity.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.SourceTicketID]; ok {
		return repo.ErrDuplicateTicket
	}
	s.nextID++
	order.ID = s.nextID
	order.Items = items
	s.orders[order.SourceTicketID] = order
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) get(ticketID string) *entity.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[ticketID]
}
