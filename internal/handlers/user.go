package handlers

import (
	"net/http"

	"msgcenter/internal/directory"
	"msgcenter/internal/envelope"
	"msgcenter/internal/models"
)

type userIDRequest struct {
	UserID string `json:"user_id"`
}

type tagRequest struct {
	UserID string `json:"user_id"`
	Tag    string `json:"tag"`
}

type findByTagsRequest struct {
	Tags      []string           `json:"tags"`
	MatchType models.MatchPolicy `json:"match_type"`
}

type findByTagsResponse struct {
	Users []*models.User `json:"users"`
	Count int            `json:"count"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req directory.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.users.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, u)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := queryParam(r, "user_id")
	if err := required("user_id", id); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, u)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req directory.UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.users.Update(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, nil)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	res, err := h.users.List(r.Context(), h.page(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, res)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := required("user_id", req.UserID); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.users.Delete(r.Context(), req.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, nil)
}

func (h *Handler) AddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.users.AddTag(r.Context(), req.UserID, req.Tag); err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, nil)
}

func (h *Handler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.users.RemoveTag(r.Context(), req.UserID, req.Tag); err != nil {
		h.fail(w, r, err)
		return
	}
	envelope.WriteOK(w, nil)
}

func (h *Handler) FindByTags(w http.ResponseWriter, r *http.Request) {
	var req findByTagsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	users, err := h.users.FindByTags(r.Context(), req.Tags, req.MatchType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	envelope.WriteOK(w, findByTagsResponse{Users: users, Count: len(users)})
}

func (h *Handler) TagStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.TagStatistics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if stats == nil {
		stats = []models.TagStatistic{}
	}
	envelope.WriteOK(w, stats)
}
