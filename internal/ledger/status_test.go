package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		entity   Entity
		from, to string
		want     bool
	}{
		{"order pending to confirmed", EntityOrder, "Pending", "Confirmed", true},
		{"order pending to cancelled", EntityOrder, "Pending", "Cancelled", true},
		{"order confirmed to shipped", EntityOrder, "Confirmed", "Shipped", true},
		{"order confirmed to cancelled", EntityOrder, "Confirmed", "Cancelled", true},
		{"order shipped to delivered", EntityOrder, "Shipped", "Delivered", true},
		{"order delivered to returned", EntityOrder, "Delivered", "Returned", true},
		{"order pending straight to delivered", EntityOrder, "Pending", "Delivered", false},
		{"order shipped cannot cancel", EntityOrder, "Shipped", "Cancelled", false},
		{"order cancelled is terminal", EntityOrder, "Cancelled", "Pending", false},
		{"withdrawal pending to paid", EntityWithdrawal, "pending", "paid", true},
		{"withdrawal pending to rejected", EntityWithdrawal, "pending", "rejected", true},
		{"withdrawal paid to rejected", EntityWithdrawal, "paid", "rejected", false},
		{"work verification to in progress", EntityWork, "pending-payment-verification", "in-progress", true},
		{"work verification to rejected", EntityWork, "pending-payment-verification", "rejected", true},
		{"work in progress to submitted", EntityWork, "in-progress", "submitted-for-review", true},
		{"work submitted to completed", EntityWork, "submitted-for-review", "completed", true},
		{"work submitted back to in progress", EntityWork, "submitted-for-review", "in-progress", true},
		{"work in progress straight to completed", EntityWork, "in-progress", "completed", false},
		{"work brand payment to verification", EntityWork, "pending-brand-payment", "pending-payment-verification", true},
		{"unknown entity", Entity("post"), "open", "closed", false},
		{"status of another entity", EntityOrder, "pending", "paid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.entity, tt.from, tt.to))
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminal(EntityOrder, string(OrderCancelled)))
	assert.True(t, IsTerminal(EntityOrder, string(OrderReturned)))
	assert.False(t, IsTerminal(EntityOrder, string(OrderDelivered)))
	assert.True(t, IsTerminal(EntityWithdrawal, string(WithdrawalPaid)))
	assert.True(t, IsTerminal(EntityWork, string(WorkCompleted)))
	assert.False(t, IsTerminal(EntityWork, "made-up"))
}
