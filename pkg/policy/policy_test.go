package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketchat/pkg/orders"
)

func TestEvaluate_Table(t *testing.T) {
	completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		room    RoomType
		status  orders.Status
		now     time.Time
		allowed bool
	}{
		{"merchant created", RoomCustomerMerchant, orders.StatusCreated, completedAt, false},
		{"merchant paid", RoomCustomerMerchant, orders.StatusPaid, completedAt, true},
		{"merchant preparing", RoomCustomerMerchant, orders.StatusPreparing, completedAt, true},
		{"merchant ready", RoomCustomerMerchant, orders.StatusReady, completedAt, true},
		{"merchant on delivery", RoomCustomerMerchant, orders.StatusOnDelivery, completedAt, false},
		{"merchant completed", RoomCustomerMerchant, orders.StatusCompleted, completedAt, false},
		{"merchant cancelled", RoomCustomerMerchant, orders.StatusCancelled, completedAt, false},

		{"driver paid", RoomCustomerDriver, orders.StatusPaid, completedAt, false},
		{"driver ready", RoomCustomerDriver, orders.StatusReady, completedAt, false},
		{"driver on delivery", RoomCustomerDriver, orders.StatusOnDelivery, completedAt, true},
		{"driver completed just now", RoomCustomerDriver, orders.StatusCompleted, completedAt, true},
		{"driver completed 14m ago", RoomCustomerDriver, orders.StatusCompleted, completedAt.Add(14 * time.Minute), true},
		{"driver completed 15m ago", RoomCustomerDriver, orders.StatusCompleted, completedAt.Add(15 * time.Minute), true},
		{"driver completed 16m ago", RoomCustomerDriver, orders.StatusCompleted, completedAt.Add(16 * time.Minute), false},
		{"driver cancelled", RoomCustomerDriver, orders.StatusCancelled, completedAt, false},

		{"support created", RoomCustomerSupport, orders.StatusCreated, completedAt, true},
		{"support cancelled", RoomCustomerSupport, orders.StatusCancelled, completedAt, true},
		{"support completed long ago", RoomCustomerSupport, orders.StatusCompleted, completedAt.Add(48 * time.Hour), true},

		{"unknown type", RoomType("GROUP"), orders.StatusCancelled, completedAt, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.room, tt.status, tt.now, completedAt)
			require.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				require.NotEmpty(t, d.Reason)
			} else {
				require.Empty(t, d.Reason)
			}
		})
	}
}

func TestEvaluate_MerchantGrace(t *testing.T) {
	leftReady := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Evaluator{DriverGrace: DefaultDriverGrace, MerchantGrace: 5 * time.Minute}

	require.True(t, e.Evaluate(RoomCustomerMerchant, orders.StatusOnDelivery, leftReady.Add(4*time.Minute), leftReady).Allowed)
	require.False(t, e.Evaluate(RoomCustomerMerchant, orders.StatusOnDelivery, leftReady.Add(6*time.Minute), leftReady).Allowed)
	require.False(t, e.Evaluate(RoomCustomerMerchant, orders.StatusCompleted, leftReady.Add(time.Minute), leftReady).Allowed)

	// Default policy has no merchant grace.
	require.False(t, Evaluate(RoomCustomerMerchant, orders.StatusOnDelivery, leftReady, leftReady).Allowed)
}

func TestEvaluate_ZeroUpdatedAt(t *testing.T) {
	d := Evaluate(RoomCustomerDriver, orders.StatusCompleted, time.Now(), time.Time{})
	require.False(t, d.Allowed)
}
