package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	admin := Caller{UserID: "admin", Role: RoleAdmin}
	brand := Caller{UserID: "brand", Role: RoleCustomer}
	influencer := Caller{UserID: "inf", Role: RoleInfluencer}
	stranger := Caller{UserID: "other", Role: RoleInfluencer}
	work := Parties{OwnerID: "brand", AssigneeID: "inf"}

	tr := func(e Entity, from, to string) Transition { return Transition{Entity: e, From: from, To: to} }

	tests := []struct {
		name    string
		caller  Caller
		t       Transition
		parties Parties
		wantErr error
	}{
		{"admin delivers order", admin, tr(EntityOrder, "Shipped", "Delivered"), Parties{OwnerID: "buyer"}, nil},
		{"buyer cannot deliver own order", Caller{UserID: "buyer", Role: RoleCustomer}, tr(EntityOrder, "Shipped", "Delivered"), Parties{OwnerID: "buyer"}, ErrForbidden},
		{"affiliate cannot pay own withdrawal", Caller{UserID: "aff", Role: RoleAffiliate}, tr(EntityWithdrawal, "pending", "paid"), Parties{OwnerID: "aff"}, ErrForbidden},
		{"brand submits payment", brand, tr(EntityWork, "pending-brand-payment", "pending-payment-verification"), work, nil},
		{"brand cannot verify own payment", brand, tr(EntityWork, "pending-payment-verification", "in-progress"), work, ErrForbidden},
		{"influencer submits work", influencer, tr(EntityWork, "in-progress", "submitted-for-review"), work, nil},
		{"influencer cannot approve work", influencer, tr(EntityWork, "submitted-for-review", "completed"), work, ErrForbidden},
		{"brand approves work", brand, tr(EntityWork, "submitted-for-review", "completed"), work, nil},
		{"brand requests revision", brand, tr(EntityWork, "submitted-for-review", "in-progress"), work, nil},
		{"stranger cannot approve work", stranger, tr(EntityWork, "submitted-for-review", "completed"), work, ErrForbidden},
		{"brand may replay approval", brand, tr(EntityWork, "completed", "completed"), work, nil},
		{"influencer may replay submission", influencer, tr(EntityWork, "submitted-for-review", "submitted-for-review"), work, nil},
		{"influencer may not replay approval", influencer, tr(EntityWork, "completed", "completed"), work, ErrForbidden},
		{"buyer may not replay order status", Caller{UserID: "buyer", Role: RoleCustomer}, tr(EntityOrder, "Shipped", "Shipped"), Parties{OwnerID: "buyer"}, ErrForbidden},
		{"owner may not replay withdrawal payout", Caller{UserID: "aff", Role: RoleAffiliate}, tr(EntityWithdrawal, "paid", "paid"), Parties{OwnerID: "aff"}, ErrForbidden},
		{"admin may replay anything", admin, tr(EntityOrder, "Shipped", "Shipped"), Parties{OwnerID: "buyer"}, nil},
		{"stranger may not replay", stranger, tr(EntityWork, "completed", "completed"), work, ErrForbidden},
		{"anonymous", Caller{}, tr(EntityOrder, "Pending", "Confirmed"), Parties{}, ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.caller, tt.t, tt.parties)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCanRead(t *testing.T) {
	assert.NoError(t, CanRead(Caller{UserID: "u1", Role: RoleAffiliate}, "u1"))
	assert.NoError(t, CanRead(Caller{UserID: "a", Role: RoleAdmin}, "u1"))
	assert.ErrorIs(t, CanRead(Caller{UserID: "u2", Role: RoleAffiliate}, "u1"), ErrForbidden)
	assert.ErrorIs(t, CanRead(Caller{}, "u1"), ErrUnauthenticated)
}

func TestAffiliateCode(t *testing.T) {
	assert.Equal(t, "AFF-K3JX9Q", affiliateCode("k3jx9qZZZZ", affiliateCodeLen))
	assert.Equal(t, "AFF-K3JX9QZZ", affiliateCode("k3jx9qZZZZ", 8))
	assert.Equal(t, "AFF-AB", affiliateCode("ab", affiliateCodeLen))
}
