// Package api exposes the operator HTTP surface: health, wallet
// inspection, and gift lifecycle debugging. It is read-mostly; the only
// mutation is gift cancellation.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/pkg/httputil"
	"github.com/giftwell/gift-automation/internal/service/gift"
	"github.com/giftwell/gift-automation/internal/service/wallet"
)

// WalletReader is the wallet surface the API reads. *wallet.Service
// satisfies it.
type WalletReader interface {
	Owner(ctx context.Context, userID string) (*domain.WalletOwner, error)
	AvailableBalance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error)
}

// GiftService is the gift surface the API uses. *gift.Service satisfies it.
type GiftService interface {
	Get(ctx context.Context, id string) (*domain.ScheduledGift, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.ScheduledGift, error)
	Cancel(ctx context.Context, id string) error
}

// LogReader reads a gift's automation history.
type LogReader interface {
	ListForGift(ctx context.Context, giftID string, limit int) ([]domain.AutomationLogEntry, error)
}

// Handlers bundles the API's dependencies.
type Handlers struct {
	wallet WalletReader
	gifts  GiftService
	logs   LogReader
}

// NewHandlers creates the operator API handlers.
func NewHandlers(w WalletReader, g GiftService, l LogReader) *Handlers {
	return &Handlers{wallet: w, gifts: g, logs: l}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	owner, err := h.wallet.Owner(r.Context(), userID)
	if errors.Is(err, wallet.ErrOwnerNotFound) {
		httputil.NotFound(w, "wallet not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	available, err := h.wallet.AvailableBalance(r.Context(), userID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"user_id":             owner.UserID,
		"balance_cents":       owner.BalanceCents,
		"available_cents":     available,
		"auto_reload_enabled": owner.AutoReloadEnabled,
	})
}

func (h *Handlers) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	txs, err := h.wallet.Transactions(r.Context(), userID, queryLimit(r, 50))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, txs)
}

func (h *Handlers) GetGift(w http.ResponseWriter, r *http.Request) {
	g, err := h.gifts.Get(r.Context(), chi.URLParam(r, "giftID"))
	if errors.Is(err, gift.ErrNotFound) {
		httputil.NotFound(w, "gift not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, g)
}

func (h *Handlers) ListUserGifts(w http.ResponseWriter, r *http.Request) {
	gifts, err := h.gifts.ListForUser(r.Context(), chi.URLParam(r, "userID"), queryLimit(r, 50))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, gifts)
}

func (h *Handlers) GetGiftLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.logs.ListForGift(r.Context(), chi.URLParam(r, "giftID"), queryLimit(r, 100))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, entries)
}

func (h *Handlers) CancelGift(w http.ResponseWriter, r *http.Request) {
	err := h.gifts.Cancel(r.Context(), chi.URLParam(r, "giftID"))
	switch {
	case errors.Is(err, gift.ErrNotFound):
		httputil.NotFound(w, "gift not found")
	case errors.Is(err, gift.ErrTerminal):
		httputil.Error(w, http.StatusConflict, "gift already in a terminal state")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.NoContent(w)
	}
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
