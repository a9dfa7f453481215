package handler

import (
	"net/http"
	"strconv"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/api/middleware"
	"github.com/whisper/support-chat/internal/api/request"
	"github.com/whisper/support-chat/internal/api/response"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/moderation"
)

// AdminHandler handles moderator endpoints
type AdminHandler struct {
	moderation *moderation.Service
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(moderationService *moderation.Service) *AdminHandler {
	return &AdminHandler{moderation: moderationService}
}

// ListReports handles GET /admin/reports
func (h *AdminHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ReportFilter{Status: model.ReportStatus(q.Get("status"))}

	var err error
	if filter.Page, err = queryInt(q.Get("page"), 1); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("page must be a positive integer"))
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit"), moderation.DefaultPageLimit); err != nil || filter.Limit > moderation.MaxPageLimit {
		apierr.WriteError(w, apierr.NewInvalidRequestError("limit must be between 1 and 100"))
		return
	}

	page, err := h.moderation.ListReports(r.Context(), middleware.GetActor(r.Context()), filter)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, page)
}

// TransitionReport handles PATCH /admin/reports/{id}
func (h *AdminHandler) TransitionReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	var req request.TransitionReportRequest
	if err := decode(w, r, &req, false); err != nil {
		apierr.WriteError(w, err)
		return
	}

	res, err := h.moderation.TransitionReport(r.Context(), middleware.GetActor(r.Context()), id, model.ReportStatus(req.Status))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ReportResponse{Report: res.Report, Changed: &res.Changed})
}

// Ban handles POST /admin/users/{id}/ban
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	res, err := h.moderation.BanActor(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.BanResponse{UserID: res.UserID, Banned: true, Disconnected: res.Disconnected})
}

// Unban handles DELETE /admin/users/{id}/ban
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := h.moderation.UnbanActor(r.Context(), middleware.GetActor(r.Context()), id); err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.BanResponse{UserID: id, Banned: false})
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
