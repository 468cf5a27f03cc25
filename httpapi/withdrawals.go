package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"arcana/withdrawal"
)

func (h *handler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount amount `json:"amount"`
	}
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.svc.Withdrawals.Request(r.Context(), callerFrom(r.Context()).ID, body.Amount.Decimal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawal(req))
}

func (h *handler) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.svc.Withdrawals.List(r.Context(), callerFrom(r.Context()).ID, withdrawal.Filters{
		SpecialistID: q.Get("specialist_id"),
		Status:       withdrawal.Status(q.Get("status")),
		Page:         page,
		PageSize:     size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(res.Items, res.Total, toWithdrawal))
}

func (h *handler) processWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision withdrawal.Status `json:"decision"`
		Notes    string            `json:"notes"`
	}
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.svc.Withdrawals.Process(r.Context(), withdrawal.ProcessRequest{
		RequestID: chi.URLParam(r, "requestID"),
		AdminID:   callerFrom(r.Context()).ID,
		Decision:  body.Decision,
		Notes:     body.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawal(req))
}
