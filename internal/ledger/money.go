package ledger

import "github.com/shopspring/decimal"

// MinWithdrawal is the smallest payout a user may request.
var MinWithdrawal = decimal.NewFromInt(20)

// influencerShare is what an influencer keeps of a work budget; the platform
// takes the rest.
var influencerShare = decimal.RequireFromString("0.90")

// RoundMoney rounds to cents, half to even.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// AffiliateProfit is the margin an affiliate earns on a delivered order:
// what the buyer paid for the item less the wholesale price. Products with
// no wholesale price yield zero.
func AffiliateProfit(pd PriceDetails, p Product) decimal.Decimal {
	if !p.WholesalePrice.Valid {
		return decimal.Zero
	}
	return RoundMoney(pd.Subtotal.Sub(pd.Discount).Sub(p.WholesalePrice.Decimal))
}

func InfluencerPayout(budget decimal.Decimal) decimal.Decimal {
	return RoundMoney(budget.Mul(influencerShare))
}
