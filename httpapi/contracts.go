package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"arcana/contract"
	"arcana/dispute"
	"arcana/offer"
)

type createContractBody struct {
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Tags         []string             `json:"tags"`
	ServiceKind  contract.ServiceKind `json:"service_kind"`
	InitialPrice amount               `json:"initial_price"`
	FileRefs     []string             `json:"file_refs"`
}

func (h *handler) createContract(w http.ResponseWriter, r *http.Request) {
	var body createContractBody
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Contracts.Create(r.Context(), contract.CreateRequest{
		RequesterID:  callerFrom(r.Context()).ID,
		Title:        body.Title,
		Description:  body.Description,
		Tags:         body.Tags,
		ServiceKind:  body.ServiceKind,
		InitialPrice: body.InitialPrice.Decimal,
		FileRefs:     body.FileRefs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContract(c))
}

func (h *handler) listContracts(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.svc.Contracts.List(r.Context(), callerFrom(r.Context()).ID, contract.Filters{
		RequesterID:  q.Get("requester_id"),
		SpecialistID: q.Get("specialist_id"),
		Status:       contract.Status(q.Get("status")),
		Page:         page,
		PageSize:     size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(res.Items, res.Total, toContract))
}

func (h *handler) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Contracts.Get(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "contractID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *handler) contractDetail(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Views.Contract(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "contractID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDetail(v))
}

func (h *handler) submitOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Price   amount `json:"price"`
		Message string `json:"message"`
	}
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.svc.Offers.Submit(r.Context(), offer.SubmitRequest{
		ContractID:   chi.URLParam(r, "contractID"),
		SpecialistID: callerFrom(r.Context()).ID,
		Price:        body.Price.Decimal,
		Message:      body.Message,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOffer(o))
}

func (h *handler) listOffers(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Offers.List(r.Context(), callerFrom(r.Context()).ID, chi.URLParam(r, "contractID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapList(list, len(list), toOffer))
}

func (h *handler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OfferID string `json:"offer_id"`
	}
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Contracts.AcceptOffer(r.Context(), chi.URLParam(r, "contractID"), body.OfferID, callerFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *handler) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Contracts.ConfirmDeposit(r.Context(), chi.URLParam(r, "contractID"), callerFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *handler) markCompleted(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Contracts.MarkCompleted(r.Context(), chi.URLParam(r, "contractID"), callerFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *handler) cancelContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Contracts.Cancel(r.Context(), chi.URLParam(r, "contractID"), callerFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContract(c))
}

func (h *handler) openDispute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.Disputes.Open(r.Context(), dispute.OpenRequest{
		ContractID:  chi.URLParam(r, "contractID"),
		InitiatorID: callerFrom(r.Context()).ID,
		Reason:      body.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDispute(d))
}
