package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"msgcenter/internal/directory"
	"msgcenter/internal/envelope"
	"msgcenter/internal/messaging"
	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
	"msgcenter/internal/records"
	"msgcenter/internal/scheduler"
	"msgcenter/internal/templates"
)

// SourceHeader names the calling system; it is stored on templates,
// schedules and records created by the request.
const SourceHeader = "X-Source-ID"

type Handler struct {
	messaging   *messaging.Service
	templates   *templates.Service
	records     records.Store
	users       *directory.Service
	scheduler   *scheduler.Machine
	maxPageSize int
	health      func(ctx context.Context) error
	log         zerolog.Logger
}

type Deps struct {
	Messaging   *messaging.Service
	Templates   *templates.Service
	Records     records.Store
	Users       *directory.Service
	Scheduler   *scheduler.Machine
	MaxPageSize int
	// Health is optional and reports backing-service reachability.
	Health func(ctx context.Context) error
	Log    zerolog.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		messaging:   d.Messaging,
		templates:   d.Templates,
		records:     d.Records,
		users:       d.Users,
		scheduler:   d.Scheduler,
		maxPageSize: d.MaxPageSize,
		health:      d.Health,
		log:         d.Log.With().Str("component", "http").Logger(),
	}
}

// Routes mounts every endpoint with the standard middleware chain.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		envelope.Write(w, http.StatusNotFound, envelope.Failure(envelope.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		envelope.Write(w, http.StatusMethodNotAllowed, envelope.Failure(envelope.CodeInvalidInput, "method not allowed"))
	})

	r.Route("/msg", func(r chi.Router) {
		r.Post("/send_msg", h.SendMsg)
		r.Get("/get_msg_record", h.GetMsgRecord)
		r.Get("/list_msg_records", h.ListMsgRecords)
		r.Post("/create_template", h.CreateTemplate)
		r.Get("/get_template", h.GetTemplate)
		r.Get("/list_templates", h.ListTemplates)
		r.Get("/template_revisions", h.TemplateRevisions)
		r.Post("/update_template", h.UpdateTemplate)
		r.Post("/del_template", h.DeleteTemplate)
	})

	r.Route("/user", func(r chi.Router) {
		r.Post("/create", h.CreateUser)
		r.Get("/get", h.GetUser)
		r.Post("/update", h.UpdateUser)
		r.Get("/list", h.ListUsers)
		r.Post("/delete", h.DeleteUser)
		r.Post("/add_tag", h.AddTag)
		r.Post("/remove_tag", h.RemoveTag)
		r.Post("/find_by_tags", h.FindByTags)
		r.Get("/tag_statistics", h.TagStatistics)
	})

	r.Route("/scheduled", func(r chi.Router) {
		r.Post("/create", h.CreateScheduled)
		r.Get("/get", h.GetScheduled)
		r.Get("/list", h.ListScheduled)
		r.Post("/cancel", h.CancelScheduled)
	})

	r.Get("/api/health", h.Health)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("health check failed")
			envelope.Write(w, http.StatusServiceUnavailable, envelope.Failure(envelope.CodeInternal, "unhealthy"))
			return
		}
	}
	envelope.WriteOK(w, map[string]string{"status": "ok"})
}

// fail writes the failure envelope and logs anything that maps to an
// internal error, since its text is not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if envelope.CodeOf(err) == envelope.CodeInternal {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	envelope.WriteError(w, err)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, models.ErrInvalidInput)
	}
	return nil
}

func (h *Handler) page(r *http.Request) pagination.Request {
	return pagination.FromQuery(r.URL.Query(), h.maxPageSize)
}

func sourceID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SourceHeader))
}

// queryParam returns the first non-empty value among names.
func queryParam(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, n := range names {
		if v := strings.TrimSpace(q.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func queryInt(r *http.Request, name string) (int, error) {
	v := queryParam(r, name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, models.ErrInvalidInput)
	}
	return n, nil
}

const localLayout = "2006-01-02 15:04:05"

// parseTime accepts RFC 3339, "2006-01-02 15:04:05" in local time and
// unix seconds.
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(localLayout, v, time.Local); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q: %w", v, models.ErrInvalidInput)
}

func queryTime(r *http.Request, names ...string) (time.Time, error) {
	v := queryParam(r, names...)
	if v == "" {
		return time.Time{}, nil
	}
	return parseTime(v)
}

func required(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required: %w", name, models.ErrInvalidInput)
	}
	return nil
}
