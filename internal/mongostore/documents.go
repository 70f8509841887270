package mongostore

import (
	"fmt"
	"math"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field names follow the storefront documents these collections were
// migrated from.

type userDoc struct {
	ID                string    `bson:"_id"`
	Name              string    `bson:"name"`
	Email             string    `bson:"email"`
	Role              string    `bson:"role"`
	AffiliateID       string    `bson:"affiliateId,omitempty"`
	AffiliateStatus   string    `bson:"affiliateStatus,omitempty"`
	WalletBalance     money     `bson:"walletBalance"`
	AffiliateBalance  money     `bson:"affiliateBalance"`
	InfluencerBalance money     `bson:"influencerBalance"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

type productDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Price          money     `bson:"price"`
	OfferPrice     money     `bson:"offerPrice"`
	WholesalePrice nullMoney `bson:"wholesalePrice,omitempty"`
}

type priceDetailsDoc struct {
	Subtotal    money `bson:"subtotal"`
	Discount    money `bson:"discount"`
	DeliveryFee money `bson:"deliveryFee"`
	Total       money `bson:"total"`
	AmountPaid  money `bson:"amountPaid"`
}

type paymentDetailsDoc struct {
	TransactionID string `bson:"transactionId"`
	SenderNumber  string `bson:"senderNumber"`
	AccountNumber string `bson:"accountNumber"`
	Status        string `bson:"status"`
}

type orderDoc struct {
	ID             string             `bson:"_id"`
	ProductID      string             `bson:"productId"`
	ProductName    string             `bson:"productName"`
	BuyerID        string             `bson:"userId"`
	AffiliateID    string             `bson:"affiliateId,omitempty"`
	Status         string             `bson:"status"`
	PriceDetails   priceDetailsDoc    `bson:"priceDetails"`
	PaymentMethod  string             `bson:"paymentMethod"`
	PaymentDetails *paymentDetailsDoc `bson:"paymentDetails,omitempty"`
	OrderDate      time.Time          `bson:"orderDate"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

type withdrawalDoc struct {
	ID            string     `bson:"_id"`
	UserID        string     `bson:"userId"`
	Field         string     `bson:"balanceField"`
	Amount        money      `bson:"amount"`
	Method        string     `bson:"method"`
	AccountNumber string     `bson:"accountNumber"`
	Status        string     `bson:"status"`
	RequestedAt   time.Time  `bson:"requestedAt"`
	ProcessedAt   *time.Time `bson:"processedAt,omitempty"`
}

type workPaymentDoc struct {
	Status    string `bson:"status"`
	Amount    money  `bson:"amount"`
	Reference string `bson:"reference,omitempty"`
}

type workDoc struct {
	ID           string         `bson:"_id"`
	PostID       string         `bson:"postId"`
	Title        string         `bson:"title"`
	BrandID      string         `bson:"brandId"`
	InfluencerID string         `bson:"influencerId"`
	Budget       money          `bson:"budget"`
	Status       string         `bson:"status"`
	Payment      workPaymentDoc `bson:"payment"`
	CreatedAt    time.Time      `bson:"createdAt"`
	AcceptedAt   *time.Time     `bson:"acceptedAt,omitempty"`
	ApprovedAt   *time.Time     `bson:"approvedAt,omitempty"`
}

type effectDoc struct {
	Key        string    `bson:"_id"`
	Entity     string    `bson:"entity"`
	DocumentID string    `bson:"documentId"`
	UserID     string    `bson:"userId"`
	Field      string    `bson:"field"`
	Delta      money     `bson:"delta"`
	AppliedAt  time.Time `bson:"appliedAt"`
}

type outboxDoc struct {
	ID           string     `bson:"_id"`
	Topic        string     `bson:"topic"`
	Key          string     `bson:"key"`
	EventType    string     `bson:"eventType"`
	Body         []byte     `bson:"body"`
	CreatedAt    time.Time  `bson:"createdAt"`
	ClaimedUntil *time.Time `bson:"claimedUntil,omitempty"`
	PublishedAt  *time.Time `bson:"publishedAt,omitempty"`
}

// money is a decimal stored as Decimal128. It also reads the doubles,
// integers and strings that older storefront documents hold, and refuses
// values that are not finite numbers.
type money decimal.Decimal

func (m money) dec() decimal.Decimal { return decimal.Decimal(m) }

func (m money) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d := decimal.Decimal(m)
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return 0, nil, fmt.Errorf("decimal128 %s: %w", d, err)
	}
	return bson.MarshalValue(v)
}

func (m *money) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	var d decimal.Decimal
	switch t {
	case bsontype.Decimal128:
		v := rv.Decimal128()
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return fmt.Errorf("money: decimal128 %s: %w", v, err)
		}
		d = parsed
	case bsontype.Double:
		f := rv.Double()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("money: double %v is not finite", f)
		}
		d = decimal.NewFromFloat(f)
	case bsontype.Int32:
		d = decimal.NewFromInt32(rv.Int32())
	case bsontype.Int64:
		d = decimal.NewFromInt(rv.Int64())
	case bsontype.String:
		parsed, err := decimal.NewFromString(rv.StringValue())
		if err != nil {
			return fmt.Errorf("money: %w", err)
		}
		d = parsed
	case bsontype.Null, bsontype.Undefined:
		d = decimal.Zero
	default:
		return fmt.Errorf("money: cannot decode bson %s", t)
	}
	*m = money(d)
	return nil
}

// nullMoney is money that may be missing or null.
type nullMoney struct {
	money
	valid bool
}

func (n nullMoney) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if !n.valid {
		return bsontype.Null, nil, nil
	}
	return n.money.MarshalBSONValue()
}

func (n *nullMoney) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*n = nullMoney{}
		return nil
	}
	n.valid = true
	return n.money.UnmarshalBSONValue(t, data)
}

func (d userDoc) user() ledger.User {
	return ledger.User{
		ID:                d.ID,
		Name:              d.Name,
		Email:             d.Email,
		Role:              ledger.Role(d.Role),
		AffiliateID:       d.AffiliateID,
		AffiliateStatus:   d.AffiliateStatus,
		WalletBalance:     d.WalletBalance.dec(),
		AffiliateBalance:  d.AffiliateBalance.dec(),
		InfluencerBalance: d.InfluencerBalance.dec(),
		UpdatedAt:         d.UpdatedAt,
	}
}

func (d productDoc) product() ledger.Product {
	p := ledger.Product{
		ID:         d.ID,
		Name:       d.Name,
		Price:      d.Price.dec(),
		OfferPrice: d.OfferPrice.dec(),
	}
	if d.WholesalePrice.valid {
		p.WholesalePrice = decimal.NewNullDecimal(d.WholesalePrice.dec())
	}
	return p
}

func (d orderDoc) order() ledger.Order {
	o := ledger.Order{
		ID:          d.ID,
		ProductID:   d.ProductID,
		ProductName: d.ProductName,
		BuyerID:     d.BuyerID,
		AffiliateID: d.AffiliateID,
		Status:      ledger.OrderStatus(d.Status),
		PriceDetails: ledger.PriceDetails{
			Subtotal:    d.PriceDetails.Subtotal.dec(),
			Discount:    d.PriceDetails.Discount.dec(),
			DeliveryFee: d.PriceDetails.DeliveryFee.dec(),
			Total:       d.PriceDetails.Total.dec(),
			AmountPaid:  d.PriceDetails.AmountPaid.dec(),
		},
		PaymentMethod: d.PaymentMethod,
		OrderDate:     d.OrderDate,
		UpdatedAt:     d.UpdatedAt,
	}
	if pd := d.PaymentDetails; pd != nil {
		o.PaymentDetails = &ledger.PaymentDetails{
			TransactionID: pd.TransactionID,
			SenderNumber:  pd.SenderNumber,
			AccountNumber: pd.AccountNumber,
			Status:        pd.Status,
		}
	}
	return o
}

func (d withdrawalDoc) withdrawal() ledger.Withdrawal {
	return ledger.Withdrawal{
		ID:            d.ID,
		UserID:        d.UserID,
		Field:         ledger.BalanceField(d.Field),
		Amount:        d.Amount.dec(),
		Method:        d.Method,
		AccountNumber: d.AccountNumber,
		Status:        ledger.WithdrawalStatus(d.Status),
		RequestedAt:   d.RequestedAt,
		ProcessedAt:   d.ProcessedAt,
	}
}

func newWithdrawalDoc(w ledger.Withdrawal) withdrawalDoc {
	return withdrawalDoc{
		ID:            w.ID,
		UserID:        w.UserID,
		Field:         string(w.Field),
		Amount:        money(w.Amount),
		Method:        w.Method,
		AccountNumber: w.AccountNumber,
		Status:        string(w.Status),
		RequestedAt:   w.RequestedAt,
		ProcessedAt:   w.ProcessedAt,
	}
}

func (d workDoc) work() ledger.Work {
	return ledger.Work{
		ID:           d.ID,
		PostID:       d.PostID,
		Title:        d.Title,
		BrandID:      d.BrandID,
		InfluencerID: d.InfluencerID,
		Budget:       d.Budget.dec(),
		Status:       ledger.WorkStatus(d.Status),
		Payment: ledger.WorkPayment{
			Status:    d.Payment.Status,
			Amount:    d.Payment.Amount.dec(),
			Reference: d.Payment.Reference,
		},
		CreatedAt:  d.CreatedAt,
		AcceptedAt: d.AcceptedAt,
		ApprovedAt: d.ApprovedAt,
	}
}

func (d effectDoc) effect() ledger.Effect {
	return ledger.Effect{
		Key:        d.Key,
		Entity:     ledger.Entity(d.Entity),
		DocumentID: d.DocumentID,
		UserID:     d.UserID,
		Field:      ledger.BalanceField(d.Field),
		Delta:      d.Delta.dec(),
		AppliedAt:  d.AppliedAt,
	}
}

func newEffectDoc(e ledger.Effect) effectDoc {
	return effectDoc{
		Key:        e.Key,
		Entity:     string(e.Entity),
		DocumentID: e.DocumentID,
		UserID:     e.UserID,
		Field:      string(e.Field),
		Delta:      money(e.Delta),
		AppliedAt:  e.AppliedAt,
	}
}
