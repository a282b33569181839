package handlers

import (
	"net/http"
	"time"

	"msgcenter/internal/envelope"
	"msgcenter/internal/messaging"
	"msgcenter/internal/models"
)

type sendMsgRequest struct {
	models.TargetSpec
	TemplateID   string            `json:"templateID"`
	TemplateData map[string]string `json:"templateData"`
	// Priority of an immediate send, 1 (low, the default) to 3 (high).
	// Scheduled sends always go out at middle.
	Priority models.Priority `json:"priority"`
	// SendTimestamp in unix seconds; > 0 schedules instead of sending now.
	SendTimestamp int64 `json:"sendTimestamp"`
}

type scheduledResponse struct {
	ScheduleID string `json:"schedule_id"`
}

func (h *Handler) SendMsg(w http.ResponseWriter, r *http.Request) {
	var req sendMsgRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := req.Priority.Normalize(); err != nil {
		h.fail(w, r, err)
		return
	}

	if req.SendTimestamp > 0 {
		msg, err := h.scheduler.Create(r.Context(), models.CreateScheduledMessageRequest{
			TargetSpec:    req.TargetSpec,
			TemplateID:    req.TemplateID,
			TemplateData:  req.TemplateData,
			ScheduledTime: time.Unix(req.SendTimestamp, 0),
			SourceID:      sourceID(r),
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		envelope.WriteOK(w, scheduledResponse{ScheduleID: msg.ScheduleID})
		return
	}

	res, err := h.messaging.Send(r.Context(), messaging.SendRequest{
		TargetSpec:   req.TargetSpec,
		TemplateID:   req.TemplateID,
		TemplateData: req.TemplateData,
		Priority:     req.Priority,
		SourceID:     sourceID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, res)
}

func (h *Handler) GetMsgRecord(w http.ResponseWriter, r *http.Request) {
	msgID := queryParam(r, "msg_id", "msgID")
	if err := required("msg_id", msgID); err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.records.Get(r.Context(), msgID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, rec)
}

func (h *Handler) ListMsgRecords(w http.ResponseWriter, r *http.Request) {
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

	filter := models.RecordFilter{
		MsgID:      queryParam(r, "msg_id"),
		To:         queryParam(r, "to"),
		ScheduleID: queryParam(r, "schedule_id"),
		SourceID:   queryParam(r, "source_id"),
		Status:     models.RecordStatus(status),
		Since:      since,
		Until:      until,
	}
	res, err := h.records.List(r.Context(), filter, h.page(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, res)
}
