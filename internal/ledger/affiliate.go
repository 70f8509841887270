package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EntityAffiliate tags events about a user's affiliate application.
const EntityAffiliate Entity = "affiliate"

// Affiliate application states stored on the user document.
const (
	AffiliatePending  = "pending"
	AffiliateApproved = "approved"
	AffiliateRejected = "rejected"
	AffiliateRevoked  = "revoked"
)

const (
	affiliateCodeLen     = 6
	effectAffiliateReset = "affiliate-balance-reset"
)

// affiliateCode derives a public affiliate id from the first n characters
// of a user id.
func affiliateCode(userID string, n int) string {
	if n > len(userID) {
		n = len(userID)
	}
	return "AFF-" + strings.ToUpper(userID[:n])
}

// assignAffiliateCode returns the shortest code for userID that no other
// user holds. It starts at six characters and grows two at a time.
func assignAffiliateCode(ctx context.Context, tx Tx, userID string) (string, error) {
	for n := affiliateCodeLen; ; n += 2 {
		code := affiliateCode(userID, n)
		holder, err := tx.FindUserByAffiliateID(ctx, code)
		if errors.Is(err, ErrReferenceNotFound) || (err == nil && holder.ID == userID) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		if n >= len(userID) {
			return "", fmt.Errorf("%w: %s belongs to %s", ErrAffiliateIDTaken, code, holder.ID)
		}
	}
}

type affiliateStep func(ctx context.Context, tx Tx, u *User) (*Adjustment, error)

// changeAffiliate moves userID's application to status to. A user already
// in that status is returned unchanged.
func (s *Service) changeAffiliate(ctx context.Context, c Caller, userID, to string, step affiliateStep) (User, error) {
	var out User
	err := s.run(ctx, "affiliate "+to+" "+userID, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.AffiliateStatus == to {
			out = u
			return nil
		}
		from := u.AffiliateStatus
		adj, err := step(ctx, tx, &u)
		if err != nil {
			return err
		}
		u.AffiliateStatus = to
		if err := tx.UpdateUserRole(ctx, u.ID, u.Role, u.AffiliateID, u.AffiliateStatus); err != nil {
			return err
		}
		out = u
		return s.enqueue(ctx, tx, c, Transition{Entity: EntityAffiliate, From: from, To: to}, u.ID, adj, s.now())
	})
	if err != nil {
		return User{}, err
	}
	return out, nil
}

func requireAdmin(c Caller) error {
	if c.UserID == "" {
		return ErrUnauthenticated
	}
	if c.Role != RoleAdmin {
		return fmt.Errorf("%w: %s is not an admin", ErrForbidden, c.UserID)
	}
	return nil
}

// ApplyAffiliate files the caller's affiliate application. Customers who
// never applied, or whose affiliate status was revoked, may apply.
func (s *Service) ApplyAffiliate(ctx context.Context, c Caller) (User, error) {
	if c.UserID == "" {
		return User{}, ErrUnauthenticated
	}
	return s.changeAffiliate(ctx, c, c.UserID, AffiliatePending, func(ctx context.Context, tx Tx, u *User) (*Adjustment, error) {
		if u.Role != RoleCustomer {
			return nil, fmt.Errorf("%w: user %s has role %s", ErrInvalidInput, u.ID, u.Role)
		}
		if u.AffiliateStatus != "" && u.AffiliateStatus != AffiliateRevoked {
			return nil, fmt.Errorf("%w: affiliate application is %s", ErrInvalidTransition, u.AffiliateStatus)
		}
		return nil, nil
	})
}

// ApproveAffiliate grants a pending applicant the affiliate role and a
// unique affiliate id, and starts their affiliate balance at zero. A user
// approved before keeps the id they had.
func (s *Service) ApproveAffiliate(ctx context.Context, c Caller, userID string) (User, error) {
	if err := requireAdmin(c); err != nil {
		return User{}, err
	}
	return s.changeAffiliate(ctx, c, userID, AffiliateApproved, func(ctx context.Context, tx Tx, u *User) (*Adjustment, error) {
		if u.AffiliateStatus != AffiliatePending {
			return nil, fmt.Errorf("%w: affiliate application of %s is %q", ErrInvalidTransition, u.ID, u.AffiliateStatus)
		}
		if u.Role != RoleCustomer {
			return nil, fmt.Errorf("%w: user %s has role %s", ErrInvalidInput, u.ID, u.Role)
		}
		if u.AffiliateID == "" {
			code, err := assignAffiliateCode(ctx, tx, u.ID)
			if err != nil {
				return nil, err
			}
			u.AffiliateID = code
		}
		u.Role = RoleAffiliate

		prev := u.AffiliateBalance
		if prev.IsZero() {
			return nil, nil
		}
		if err := tx.SetBalance(ctx, u.ID, AffiliateBalance, decimal.Zero); err != nil {
			return nil, err
		}
		u.AffiliateBalance = decimal.Zero
		return &Adjustment{
			Key:     EffectKey(EntityAffiliate, u.ID, effectAffiliateReset),
			UserID:  u.ID,
			Field:   AffiliateBalance,
			Delta:   prev.Neg(),
			Balance: decimal.Zero,
		}, nil
	})
}

// RejectAffiliate turns down a pending application.
func (s *Service) RejectAffiliate(ctx context.Context, c Caller, userID string) (User, error) {
	if err := requireAdmin(c); err != nil {
		return User{}, err
	}
	return s.changeAffiliate(ctx, c, userID, AffiliateRejected, func(ctx context.Context, tx Tx, u *User) (*Adjustment, error) {
		if u.AffiliateStatus != AffiliatePending {
			return nil, fmt.Errorf("%w: affiliate application of %s is %q", ErrInvalidTransition, u.ID, u.AffiliateStatus)
		}
		return nil, nil
	})
}

// RevokeAffiliate returns an affiliate to the customer role. The affiliate
// id stays on the user so it is never handed to anyone else, and orders
// delivered afterwards no longer credit it.
func (s *Service) RevokeAffiliate(ctx context.Context, c Caller, userID string) (User, error) {
	if err := requireAdmin(c); err != nil {
		return User{}, err
	}
	return s.changeAffiliate(ctx, c, userID, AffiliateRevoked, func(ctx context.Context, tx Tx, u *User) (*Adjustment, error) {
		if u.Role != RoleAffiliate {
			return nil, fmt.Errorf("%w: user %s is not an affiliate", ErrInvalidTransition, u.ID)
		}
		u.Role = RoleCustomer
		return nil, nil
	})
}
