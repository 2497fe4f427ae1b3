package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{StatusNew, StatusViewed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled} {
		assert.True(t, s.Valid(), "status %s", s)
	}
	assert.False(t, OrderStatus("burnt").Valid())
	assert.False(t, OrderStatus("").Valid())
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	for _, s := range []OrderStatus{StatusNew, StatusViewed, StatusPreparing, StatusReady} {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}

func TestWaitingTimeAnchors(t *testing.T) {
	orderTime := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	now := orderTime.Add(10 * time.Minute)
	ready := orderTime.Add(4 * time.Minute)
	completed := orderTime.Add(6 * time.Minute)

	running := &Order{OrderTime: orderTime}
	assert.Equal(t, 10*time.Minute, running.WaitingTime(now))

	readied := &Order{OrderTime: orderTime, ReadyAt: &ready}
	assert.Equal(t, 4*time.Minute, readied.WaitingTime(now))

	done := &Order{OrderTime: orderTime, ReadyAt: &ready, CompletedAt: &completed}
	assert.Equal(t, 6*time.Minute, done.WaitingTime(now))
}

func TestWaitingTimeNeverNegative(t *testing.T) {
	orderTime := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	o := &Order{OrderTime: orderTime}
	assert.Equal(t, time.Duration(0), o.WaitingTime(orderTime.Add(-time.Minute)))
}

func TestItemDisplayFallsBackToProductName(t *testing.T) {
	withDisplay := &OrderItem{ProductName: "espresso doppio", DisplayName: "Doppio"}
	assert.Equal(t, "Doppio", withDisplay.Display())

	plain := &OrderItem{ProductName: "espresso doppio"}
	assert.Equal(t, "espresso doppio", plain.Display())
}
