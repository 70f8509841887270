package ledger

type Entity string

const (
	EntityOrder      Entity = "order"
	EntityWithdrawal Entity = "withdrawal"
	EntityWork       Entity = "work"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "Pending"
	OrderConfirmed OrderStatus = "Confirmed"
	OrderShipped   OrderStatus = "Shipped"
	OrderDelivered OrderStatus = "Delivered"
	OrderCancelled OrderStatus = "Cancelled"
	OrderReturned  OrderStatus = "Returned"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalPaid     WithdrawalStatus = "paid"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type WorkStatus string

const (
	WorkPendingBrandPayment        WorkStatus = "pending-brand-payment"
	WorkPendingPaymentVerification WorkStatus = "pending-payment-verification"
	WorkInProgress                 WorkStatus = "in-progress"
	WorkSubmittedForReview         WorkStatus = "submitted-for-review"
	WorkCompleted                  WorkStatus = "completed"
	WorkRejected                   WorkStatus = "rejected"
)

// validNext lists, per entity, every status reachable in one step.
// Statuses with an empty set are terminal.
var validNext = map[Entity]map[string]map[string]bool{
	EntityOrder: {
		string(OrderPending):   {string(OrderConfirmed): true, string(OrderCancelled): true},
		string(OrderConfirmed): {string(OrderShipped): true, string(OrderCancelled): true},
		string(OrderShipped):   {string(OrderDelivered): true},
		string(OrderDelivered): {string(OrderReturned): true},
		string(OrderCancelled): {},
		string(OrderReturned):  {},
	},
	EntityWithdrawal: {
		string(WithdrawalPending):  {string(WithdrawalPaid): true, string(WithdrawalRejected): true},
		string(WithdrawalPaid):     {},
		string(WithdrawalRejected): {},
	},
	EntityWork: {
		string(WorkPendingBrandPayment):        {string(WorkPendingPaymentVerification): true, string(WorkRejected): true},
		string(WorkPendingPaymentVerification): {string(WorkInProgress): true, string(WorkRejected): true},
		string(WorkInProgress):                 {string(WorkSubmittedForReview): true},
		string(WorkSubmittedForReview):         {string(WorkCompleted): true, string(WorkInProgress): true},
		string(WorkCompleted):                  {},
		string(WorkRejected):                   {},
	},
}

// Transition is a requested status change on one document.
type Transition struct {
	Entity Entity
	From   string
	To     string
}

func (t Transition) String() string {
	return string(t.Entity) + " " + t.From + "->" + t.To
}

func CanTransition(e Entity, from, to string) bool {
	return validNext[e][from][to]
}

// KnownStatus reports whether s is a status of entity e at all.
func KnownStatus(e Entity, s string) bool {
	_, ok := validNext[e][s]
	return ok
}

func IsTerminal(e Entity, s string) bool {
	next, ok := validNext[e][s]
	return ok && len(next) == 0
}
