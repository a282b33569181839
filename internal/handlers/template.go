package handlers

import (
	"net/http"

	"msgcenter/internal/envelope"
	"msgcenter/internal/models"
	"msgcenter/internal/templates"
)

type templateIDRequest struct {
	TemplateID string `json:"template_id"`
}

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templates.CreateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.SourceID == "" {
		req.SourceID = sourceID(r)
	}

	t, err := h.templates.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, t)
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := queryParam(r, "template_id", "templateID")
	if err := required("template_id", id); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.templates.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, t)
}

func (h *Handler) TemplateRevisions(w http.ResponseWriter, r *http.Request) {
	id := queryParam(r, "template_id", "templateID")
	if err := required("template_id", id); err != nil {
		h.fail(w, r, err)
		return
	}

	revs, err := h.templates.Revisions(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, revs)
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	channel, err := queryInt(r, "channel")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := queryInt(r, "status")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filter := models.TemplateFilter{
		SourceID: queryParam(r, "source_id", "sourceID"),
		Channel:  models.Channel(channel),
		Status:   models.TemplateStatus(status),
	}
	res, err := h.templates.List(r.Context(), filter, h.page(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, res)
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templates.UpdateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := required("template_id", req.TemplateID); err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.templates.Update(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, t)
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateIDRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := required("template_id", req.TemplateID); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.templates.Delete(r.Context(), req.TemplateID); err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, nil)
}
