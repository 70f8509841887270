package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/auth"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/ariefcatur/go-marketplace-ledger/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Ledger interface {
	TransitionOrder(ctx context.Context, c ledger.Caller, orderID string, to ledger.OrderStatus) (ledger.TransitionResult, error)
	TransitionWithdrawal(ctx context.Context, c ledger.Caller, withdrawalID string, to ledger.WithdrawalStatus) (ledger.TransitionResult, error)
	TransitionWork(ctx context.Context, c ledger.Caller, workID string, to ledger.WorkStatus, paymentRef string) (ledger.TransitionResult, error)
	RequestWithdrawal(ctx context.Context, c ledger.Caller, req ledger.WithdrawalRequest) (ledger.Withdrawal, error)
	ApplyAffiliate(ctx context.Context, c ledger.Caller) (ledger.User, error)
	ApproveAffiliate(ctx context.Context, c ledger.Caller, userID string) (ledger.User, error)
	RejectAffiliate(ctx context.Context, c ledger.Caller, userID string) (ledger.User, error)
	RevokeAffiliate(ctx context.Context, c ledger.Caller, userID string) (ledger.User, error)
	Balances(ctx context.Context, c ledger.Caller, userID string) (ledger.Balances, error)
}

// BalanceCache stores balances read under a version taken beforehand, and
// drops them if the user was invalidated in between.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (ledger.Balances, bool, error)
	Version(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, b ledger.Balances, version int64) (bool, error)
	Invalidate(ctx context.Context, userID string) error
}

type Idempotency interface {
	Reserve(ctx context.Context, userID, key string) ([]byte, bool, error)
	Complete(ctx context.Context, userID, key string, response []byte) error
	Release(ctx context.Context, userID, key string) error
}

// LedgerHandler exposes the ledger over HTTP. Cache and Idem are optional.
type LedgerHandler struct {
	Ledger   Ledger
	Verifier *auth.Verifier
	Cache    BalanceCache
	Idem     Idempotency
	Logger   *observability.Logger
}

type statusReq struct {
	Status     string `json:"status"`
	PaymentRef string `json:"payment_ref"`
}

type withdrawalReq struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	AccountNumber string          `json:"account_number"`
}

type withdrawalResp struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	BalanceField  string          `json:"balance_field"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	AccountNumber string          `json:"account_number"`
	Status        string          `json:"status"`
	RequestedAt   time.Time       `json:"requested_at"`
}

type affiliateResp struct {
	UserID          string `json:"user_id"`
	Role            string `json:"role"`
	AffiliateID     string `json:"affiliate_id"`
	AffiliateStatus string `json:"affiliate_status"`
}

func (h *LedgerHandler) Register(r chi.Router) {
	if h.Logger == nil {
		h.Logger = observability.NewNopLogger()
	}
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.Verifier))
		r.Post("/orders/{id}/status", h.transitionOrder)
		r.Post("/works/{id}/status", h.transitionWork)
		r.Post("/withdrawals", h.requestWithdrawal)
		r.Post("/withdrawals/{id}/status", h.transitionWithdrawal)
		r.Post("/affiliates/apply", h.applyAffiliate)
		r.Post("/affiliates/{userId}/approve", h.affiliateDecision(h.Ledger.ApproveAffiliate))
		r.Post("/affiliates/{userId}/reject", h.affiliateDecision(h.Ledger.RejectAffiliate))
		r.Post("/affiliates/{userId}/revoke", h.affiliateDecision(h.Ledger.RevokeAffiliate))
		r.Get("/users/{id}/balances", h.getBalances)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidTransition), errors.Is(err, ledger.ErrAffiliateIDTaken), errors.Is(err, redisx.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrBalanceUpdateFailed), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *LedgerHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		h.Logger.Error(r.Context(), "request failed", err)
	}
	writeError(w, err)
}

func decodeStatus(w http.ResponseWriter, r *http.Request) (statusReq, bool) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return statusReq{}, false
	}
	return req, true
}

// afterTransition drops the cached balances of the adjusted user right away;
// the worker does the same for every other API instance once the event lands.
func (h *LedgerHandler) afterTransition(ctx context.Context, res ledger.TransitionResult) {
	if res.Adjustment == nil || h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, res.Adjustment.UserID); err != nil {
		h.Logger.WarnWithError(ctx, "balance cache invalidate failed", err)
	}
}

func (h *LedgerHandler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.TransitionOrder(r.Context(), auth.CallerFrom(r.Context()), chi.URLParam(r, "id"), ledger.OrderStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.afterTransition(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) transitionWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.TransitionWithdrawal(r.Context(), auth.CallerFrom(r.Context()), chi.URLParam(r, "id"), ledger.WithdrawalStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.afterTransition(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) transitionWork(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatus(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.TransitionWork(r.Context(), auth.CallerFrom(r.Context()), chi.URLParam(r, "id"), ledger.WorkStatus(req.Status), req.PaymentRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.afterTransition(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

// requestWithdrawal honours an Idempotency-Key header: a retried request
// with the same key gets the first response back instead of a second
// withdrawal.
func (h *LedgerHandler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx := r.Context()
	c := auth.CallerFrom(ctx)

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.Idem != nil {
		prev, reserved, err := h.Idem.Reserve(ctx, c.UserID, key)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !reserved {
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(prev)
			return
		}
	}

	wd, err := h.Ledger.RequestWithdrawal(ctx, c, ledger.WithdrawalRequest{
		Amount:        req.Amount,
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		if key != "" && h.Idem != nil {
			if rerr := h.Idem.Release(ctx, c.UserID, key); rerr != nil {
				h.Logger.WarnWithError(ctx, "idempotency release failed", rerr)
			}
		}
		h.fail(w, r, err)
		return
	}

	body, err := json.Marshal(withdrawalResp{
		ID:            wd.ID,
		UserID:        wd.UserID,
		BalanceField:  string(wd.Field),
		Amount:        wd.Amount,
		Method:        wd.Method,
		AccountNumber: wd.AccountNumber,
		Status:        string(wd.Status),
		RequestedAt:   wd.RequestedAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if key != "" && h.Idem != nil {
		if err := h.Idem.Complete(ctx, c.UserID, key, body); err != nil {
			h.Logger.WarnWithError(ctx, "idempotency complete failed", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func writeAffiliate(w http.ResponseWriter, u ledger.User) {
	writeJSON(w, http.StatusOK, affiliateResp{
		UserID:          u.ID,
		Role:            string(u.Role),
		AffiliateID:     u.AffiliateID,
		AffiliateStatus: u.AffiliateStatus,
	})
}

func (h *LedgerHandler) applyAffiliate(w http.ResponseWriter, r *http.Request) {
	u, err := h.Ledger.ApplyAffiliate(r.Context(), auth.CallerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAffiliate(w, u)
}

// affiliateDecision serves an admin decision on the user in the path.
// Approval may reset the affiliate balance, so cached balances are dropped.
func (h *LedgerHandler) affiliateDecision(decide func(ctx context.Context, c ledger.Caller, userID string) (ledger.User, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		u, err := decide(ctx, auth.CallerFrom(ctx), chi.URLParam(r, "userId"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if h.Cache != nil {
			if err := h.Cache.Invalidate(ctx, u.ID); err != nil {
				h.Logger.WarnWithError(ctx, "balance cache invalidate failed", err)
			}
		}
		writeAffiliate(w, u)
	}
}

func (h *LedgerHandler) getBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := auth.CallerFrom(ctx)
	userID := chi.URLParam(r, "id")
	if err := ledger.CanRead(c, userID); err != nil {
		h.fail(w, r, err)
		return
	}

	cacheable := false
	var version int64
	if h.Cache != nil {
		if b, ok, err := h.Cache.Get(ctx, userID); err == nil && ok {
			writeJSON(w, http.StatusOK, b)
			return
		} else if err != nil {
			h.Logger.WarnWithError(ctx, "balance cache read failed", err)
		}
		var err error
		if version, err = h.Cache.Version(ctx, userID); err != nil {
			h.Logger.WarnWithError(ctx, "balance cache version failed", err)
		} else {
			cacheable = true
		}
	}

	b, err := h.Ledger.Balances(ctx, c, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cacheable {
		if _, err := h.Cache.Set(ctx, b, version); err != nil {
			h.Logger.WarnWithError(ctx, "balance cache write failed", err)
		}
	}
	writeJSON(w, http.StatusOK, b)
}
