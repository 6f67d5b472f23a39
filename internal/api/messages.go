package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/matheus3301/wppcrm/internal/conn"
	"github.com/matheus3301/wppcrm/internal/store"
	"go.uber.org/zap"
)

const maxListLimit = 500

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type sendResponse struct {
	Success bool           `json:"success"`
	Message *store.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type messagesResponse struct {
	Messages []store.Message `json:"messages"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), req.ConversationID, req.Text)
	var notConnected *conn.NotConnectedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sendResponse{Success: true, Message: msg})
	case errors.As(err, &notConnected):
		writeJSON(w, http.StatusConflict, sendResponse{Error: err.Error()})
	case errors.Is(err, conn.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: err.Error()})
	default:
		h.logger.Warn("send via api failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, sendResponse{Error: err.Error()})
	}
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and " + strconv.Itoa(maxListLimit)})
			return
		}
		limit = n
	}

	msgs, err := h.svc.GetMessages(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list messages failed", zap.String("conversation", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list messages failed"})
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}
