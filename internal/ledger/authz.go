package ledger

import (
	"fmt"
	"strings"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID string
	Role   Role
}

// Parties identifies who is on each side of a document. For works the owner
// is the brand and the assignee the influencer; for withdrawals the owner is
// the requester; for orders the owner is the buyer.
type Parties struct {
	OwnerID    string
	AssigneeID string
}

type party uint8

const (
	partyOwner party = 1 << iota
	partyAssignee
)

// nonAdmin lists the transitions a non-admin may request and which side of
// the document must be asking. Admins may request any transition; anything
// absent here is admin-only.
var nonAdmin = map[Entity]map[string]party{
	EntityWork: {
		edge(WorkPendingBrandPayment, WorkPendingPaymentVerification): partyOwner,
		edge(WorkPendingBrandPayment, WorkRejected):                   partyOwner,
		edge(WorkInProgress, WorkSubmittedForReview):                  partyAssignee,
		edge(WorkSubmittedForReview, WorkCompleted):                   partyOwner,
		edge(WorkSubmittedForReview, WorkInProgress):                  partyOwner,
	},
}

func (p Parties) has(need party, userID string) bool {
	if need&partyOwner != 0 && p.OwnerID != "" && userID == p.OwnerID {
		return true
	}
	return need&partyAssignee != 0 && p.AssigneeID != "" && userID == p.AssigneeID
}

func edge[S ~string](from, to S) string { return string(from) + ">" + string(to) }

// Authorize is the single gate every transition passes before any write.
func Authorize(c Caller, t Transition, p Parties) error {
	if c.UserID == "" {
		return ErrUnauthenticated
	}
	if c.Role == RoleAdmin {
		return nil
	}
	if t.From == t.To {
		// replaying the current status is open to whoever could have set it
		for e, need := range nonAdmin[t.Entity] {
			if strings.HasSuffix(e, ">"+t.To) && p.has(need, c.UserID) {
				return nil
			}
		}
	} else if need, ok := nonAdmin[t.Entity][edge(t.From, t.To)]; ok && p.has(need, c.UserID) {
		return nil
	}
	return fmt.Errorf("%w: %s may not request %s", ErrForbidden, c.UserID, t)
}

// CanRead reports whether c may see data belonging to userID.
func CanRead(c Caller, userID string) error {
	if c.UserID == "" {
		return ErrUnauthenticated
	}
	if c.Role == RoleAdmin || c.UserID == userID {
		return nil
	}
	return ErrForbidden
}
