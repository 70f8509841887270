package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleAffiliate  Role = "affiliate"
	RoleInfluencer Role = "influencer"
	RoleAdmin      Role = "admin"
)

// BalanceField names one of the ledger values stored on a user document.
type BalanceField string

const (
	WalletBalance     BalanceField = "walletBalance"
	AffiliateBalance  BalanceField = "affiliateBalance"
	InfluencerBalance BalanceField = "influencerBalance"
)

func (f BalanceField) Valid() bool {
	switch f {
	case WalletBalance, AffiliateBalance, InfluencerBalance:
		return true
	}
	return false
}

type User struct {
	ID                string
	Name              string
	Email             string
	Role              Role
	AffiliateID       string
	AffiliateStatus   string
	WalletBalance     decimal.Decimal
	AffiliateBalance  decimal.Decimal
	InfluencerBalance decimal.Decimal
	UpdatedAt         time.Time
}

func (u User) Balance(f BalanceField) decimal.Decimal {
	switch f {
	case AffiliateBalance:
		return u.AffiliateBalance
	case InfluencerBalance:
		return u.InfluencerBalance
	default:
		return u.WalletBalance
	}
}

func (u *User) SetBalance(f BalanceField, v decimal.Decimal) {
	switch f {
	case AffiliateBalance:
		u.AffiliateBalance = v
	case InfluencerBalance:
		u.InfluencerBalance = v
	default:
		u.WalletBalance = v
	}
}

type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	OfferPrice decimal.Decimal
	// WholesalePrice is unset for products never listed for affiliates.
	WholesalePrice decimal.NullDecimal
}

type PriceDetails struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
	AmountPaid  decimal.Decimal
}

// PaymentDetails is what the buyer typed in at checkout. Nothing verifies it.
type PaymentDetails struct {
	TransactionID string
	SenderNumber  string
	AccountNumber string
	Status        string
}

type Order struct {
	ID             string
	ProductID      string
	ProductName    string
	BuyerID        string
	AffiliateID    string
	Status         OrderStatus
	PriceDetails   PriceDetails
	PaymentMethod  string
	PaymentDetails *PaymentDetails
	OrderDate      time.Time
	UpdatedAt      time.Time
}

type Withdrawal struct {
	ID            string
	UserID        string
	Field         BalanceField
	Amount        decimal.Decimal
	Method        string
	AccountNumber string
	Status        WithdrawalStatus
	RequestedAt   time.Time
	ProcessedAt   *time.Time
}

const (
	PaymentRequired  = "required"
	PaymentSubmitted = "submitted"
	PaymentVerified  = "verified"
)

type WorkPayment struct {
	Status    string
	Amount    decimal.Decimal
	Reference string
}

type Work struct {
	ID           string
	PostID       string
	Title        string
	BrandID      string
	InfluencerID string
	Budget       decimal.Decimal
	Status       WorkStatus
	Payment      WorkPayment
	CreatedAt    time.Time
	AcceptedAt   *time.Time
	ApprovedAt   *time.Time
}

// Effect records a balance mutation that has been applied for a document
// transition. Its Key is unique; a present key means "already applied".
type Effect struct {
	Key        string
	Entity     Entity
	DocumentID string
	UserID     string
	Field      BalanceField
	Delta      decimal.Decimal
	AppliedAt  time.Time
}

type Balances struct {
	UserID     string          `json:"user_id"`
	Wallet     decimal.Decimal `json:"wallet_balance"`
	Affiliate  decimal.Decimal `json:"affiliate_balance"`
	Influencer decimal.Decimal `json:"influencer_balance"`
}

func BalancesOf(u User) Balances {
	return Balances{
		UserID:     u.ID,
		Wallet:     u.WalletBalance,
		Affiliate:  u.AffiliateBalance,
		Influencer: u.InfluencerBalance,
	}
}
