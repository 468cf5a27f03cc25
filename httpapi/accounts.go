package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"arcana/auth"
	"arcana/money"
)

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := readJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.svc.Auth.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(*user))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := readJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Auth.Login(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user": toUser(res.User)})
}

func (h *handler) setVerified(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Verified bool `json:"verified"`
	}
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.svc.Auth.SetVerified(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "userID"), body.Verified)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(user))
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	b, err := h.svc.Ledger.BalanceOf(r.Context(), callerFrom(r.Context()).ID, accountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON(accountID, b))
}

func balanceJSON(accountID string, b decimal.Decimal) map[string]string {
	return map[string]string{"account_id": accountID, "balance": money.Format(b)}
}

func (h *handler) entries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Ledger.Entries(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "accountID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(list, len(list), toEntry))
}
