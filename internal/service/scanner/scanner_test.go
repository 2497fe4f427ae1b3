package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/kds/internal/config"
	"github.com/Additional-Code/kds/internal/entity"
	"github.com/Additional-Code/kds/internal/pos"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.POS.PrepCategory = "081"
	cfg.POS.ScanBatch = 10
	cfg.POS.Lookback = 2 * time.Hour
	return cfg
}

func newTestService(ledger Ledger, store Store) *Service {
	return New(ledger, store, testConfig(), zap.NewNop(), nil)
}

func prepLine(product string) pos.TicketLine {
	return pos.TicketLine{
		ProductID:   product,
		ProductName: product,
		Category:    "081",
		Quantity:    1,
	}
}

func TestScanCreatesOrderFromPrepLinesOnly(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()

	ledger.addTicket(
		pos.Ticket{ID: "t-1", Number: 41, Operator: "anna", RecordedAt: time.Now().Add(-time.Minute)},
		prepLine("espresso"),
		prepLine("croissant"),
		pos.TicketLine{ProductID: "cola", ProductName: "cola", Category: "010", Quantity: 1},
	)

	svc := newTestService(ledger, store)
	created, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	order := store.get("t-1")
	require.NotNil(t, order)
	assert.Equal(t, entity.StatusNew, order.Status)
	assert.Equal(t, 41, order.TicketNumber)
	assert.Equal(t, "anna", order.Operator)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "espresso", order.Items[0].ProductName)
	assert.Equal(t, "croissant", order.Items[1].ProductName)
}

func TestScanCapturesCustomerAndModifiers(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()

	line := prepLine("latte")
	line.Modifiers = map[string]string{"size": "large", "milk": "oat"}
	ledger.addTicket(
		pos.Ticket{
			ID:                "t-1",
			Number:            9,
			RecordedAt:        time.Now().Add(-time.Minute),
			CustomerName:      "Dana",
			CustomerSearchKey: "DANA01",
		},
		line,
	)

	svc := newTestService(ledger, store)
	created, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, created)

	order := store.get("t-1")
	require.NotNil(t, order)
	assert.JSONEq(t, `{"name":"Dana","searchkey":"DANA01"}`, string(order.CustomerInfo))
	require.Len(t, order.Items, 1)
	assert.JSONEq(t, `{"size":"large","milk":"oat"}`, string(order.Items[0].Modifiers))
}

func TestScanLeavesWalkInCustomerEmpty(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()
	ledger.addTicket(
		pos.Ticket{ID: "t-1", Number: 1, RecordedAt: time.Now().Add(-time.Minute)},
		prepLine("espresso"),
	)

	svc := newTestService(ledger, store)
	_, err := svc.Scan(context.Background())
	require.NoError(t, err)

	order := store.get("t-1")
	require.NotNil(t, order)
	assert.Nil(t, order.CustomerInfo)
	assert.Nil(t, order.Items[0].Modifiers)
}

func TestScanIsIdempotent(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()
	ledger.addTicket(
		pos.Ticket{ID: "t-1", Number: 1, RecordedAt: time.Now().Add(-time.Minute)},
		prepLine("soup"),
	)

	svc := newTestService(ledger, store)

	created, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 1, store.count())
}

func TestScanHonorsBatchLimit(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()

	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 15; i++ {
		ledger.addTicket(
			pos.Ticket{ID: fmt.Sprintf("t-%d", i), Number: i, RecordedAt: base.Add(time.Duration(i) * time.Minute)},
			prepLine("dish"),
		)
	}

	svc := newTestService(ledger, store)

	created, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, created)

	// The next pass picks up from the newest ingested order time.
	created, err = svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, created)
	assert.Equal(t, 15, store.count())
}

func TestScanClampsLookback(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()

	svc := newTestService(ledger, store)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	// A stale order far in the past must not widen the window.
	old := &entity.Order{SourceTicketID: "stale", OrderTime: now.Add(-8 * time.Hour)}
	require.NoError(t, store.CreateWithItems(context.Background(), old, nil))

	_, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), ledger.lastSince)
}

func TestScanStartsFromLatestOrderTime(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()

	svc := newTestService(ledger, store)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	recent := &entity.Order{SourceTicketID: "recent", OrderTime: now.Add(-10 * time.Minute)}
	require.NoError(t, store.CreateWithItems(context.Background(), recent, nil))

	_, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Minute), ledger.lastSince)
}

func TestScanLedgerFailureAborts(t *testing.T) {
	ledger := newMemLedger()
	ledger.ticketErr = errors.New("connection refused")
	store := newMemStore()

	svc := newTestService(ledger, store)
	created, err := svc.Scan(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, created)
}

func TestScanSkipsFailingTicket(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()

	now := time.Now()
	ledger.addTicket(pos.Ticket{ID: "ok-1", Number: 1, RecordedAt: now.Add(-3 * time.Minute)}, prepLine("soup"))
	ledger.addTicket(pos.Ticket{ID: "bad", Number: 2, RecordedAt: now.Add(-2 * time.Minute)}, prepLine("stew"))
	ledger.addTicket(pos.Ticket{ID: "ok-2", Number: 3, RecordedAt: now.Add(-time.Minute)}, prepLine("pie"))
	ledger.lineErr["bad"] = errors.New("read timeout")

	svc := newTestService(ledger, store)
	created, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Nil(t, store.get("bad"))
}

func TestConcurrentScansCreateOnce(t *testing.T) {
	ledger := newMemLedger()
	store := newMemStore()
	ledger.addTicket(
		pos.Ticket{ID: "t-1", Number: 1, RecordedAt: time.Now().Add(-time.Minute)},
		prepLine("ramen"),
	)

	svc := newTestService(ledger, store)

	var wg sync.WaitGroup
	results := make([]int, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Scan(context.Background())
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
		total += results[i]
	}
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, store.count())
}
