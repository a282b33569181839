package handlers

import (
	"net/http"

	"msgcenter/internal/envelope"
	"msgcenter/internal/models"
)

type createScheduledRequest struct {
	models.TargetSpec
	TemplateID    string            `json:"template_id"`
	TemplateData  map[string]string `json:"template_data"`
	ScheduledTime string            `json:"scheduled_time"`
}

type scheduleIDRequest struct {
	ScheduleID string `json:"schedule_id"`
}

func (h *Handler) CreateScheduled(w http.ResponseWriter, r *http.Request) {
	var req createScheduledRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := required("scheduled_time", req.ScheduledTime); err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := parseTime(req.ScheduledTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.scheduler.Create(r.Context(), models.CreateScheduledMessageRequest{
		TargetSpec:    req.TargetSpec,
		TemplateID:    req.TemplateID,
		TemplateData:  req.TemplateData,
		ScheduledTime: at,
		SourceID:      sourceID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, msg)
}

func (h *Handler) GetScheduled(w http.ResponseWriter, r *http.Request) {
	id := queryParam(r, "schedule_id")
	if err := required("schedule_id", id); err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, msg)
}

func (h *Handler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	status, err := queryInt(r, "status")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	since, err := queryTime(r, "start_time")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	until, err := queryTime(r, "end_time")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filter := models.ScheduleFilter{
		Status:   models.ScheduleStatus(status),
		Since:    since,
		Until:    until,
		SourceID: queryParam(r, "source_id"),
	}
	res, err := h.scheduler.List(r.Context(), filter, h.page(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, res)
}

func (h *Handler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	var req scheduleIDRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := required("schedule_id", req.ScheduleID); err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.scheduler.Cancel(r.Context(), req.ScheduleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, msg)
}
