package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"arcana/dispute"
)

func (h *handler) listDisputes(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.svc.Disputes.List(r.Context(), callerFrom(r.Context()).ID, dispute.Filters{
		Status:     dispute.Status(q.Get("status")),
		ContractID: q.Get("contract_id"),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(res.Items, res.Total, toDispute))
}

func (h *handler) getDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Disputes.Get(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "disputeID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDispute(d))
}

func (h *handler) disputeDetail(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Views.Dispute(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "disputeID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDetail(v))
}

type resolveBody struct {
	Action        dispute.Action `json:"action"`
	Notes         string         `json:"notes"`
	PartialAmount *amount        `json:"partial_amount"`
}

func (h *handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.Disputes.Resolve(r.Context(), dispute.ResolveRequest{
		DisputeID:     chi.URLParam(r, "disputeID"),
		AdminID:       callerFrom(r.Context()).ID,
		Action:        body.Action,
		Notes:         body.Notes,
		PartialAmount: body.PartialAmount.nullable(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDispute(d))
}
