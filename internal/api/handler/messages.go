package handler

import (
	"net/http"
	"strconv"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/api/middleware"
	"github.com/whisper/support-chat/internal/api/request"
	"github.com/whisper/support-chat/internal/api/response"
	"github.com/whisper/support-chat/internal/chat"
	"github.com/whisper/support-chat/internal/moderation"
)

// MessageHandler handles message endpoints
type MessageHandler struct {
	chat       *chat.Service
	moderation *moderation.Service
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(chatService *chat.Service, moderationService *moderation.Service) *MessageHandler {
	return &MessageHandler{
		chat:       chatService,
		moderation: moderationService,
	}
}

// List handles GET /messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := chat.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > chat.MaxRecentLimit {
			apierr.WriteError(w, apierr.NewInvalidRequestError("limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	msgs, err := h.chat.LoadRecent(r.Context(), r.URL.Query().Get("room"), limit)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.MessagesResponse{Messages: msgs})
}

// Send handles POST /messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req request.SendMessageRequest
	if err := decode(w, r, &req, false); err != nil {
		apierr.WriteError(w, err)
		return
	}

	res, err := h.chat.SendMessage(r.Context(), middleware.GetActor(r.Context()), req.Content, req.RoomID)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

// React handles POST /messages/{id}/react
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	var req request.ReactRequest
	if err := decode(w, r, &req, true); err != nil {
		apierr.WriteError(w, err)
		return
	}

	res, err := h.chat.ToggleReaction(r.Context(), middleware.GetActor(r.Context()), id, req.Emoji)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.ReactionResponse{Added: res.Added, Count: res.Count})
}

// Report handles POST /messages/{id}/report
func (h *MessageHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	var req request.ReportRequest
	if err := decode(w, r, &req, true); err != nil {
		apierr.WriteError(w, err)
		return
	}

	report, err := h.moderation.FileReport(r.Context(), middleware.GetActor(r.Context()), id, req.Reason)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, response.ReportResponse{Report: report})
}

// Delete handles DELETE /messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if _, err := h.moderation.DeleteMessage(r.Context(), middleware.GetActor(r.Context()), id); err != nil {
		apierr.WriteError(w, err)
		return
	}
	response.NoContent(w)
}
