package api

import (
	"net/http"

	"github.com/matheus3301/wppcrm/internal/status"
	"go.uber.org/zap"
)

type statusResponse struct {
	Status status.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetStatus())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Start(r.Context()); err != nil {
		h.logger.Warn("start via api failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: h.svc.GetStatus(), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: h.svc.GetStatus()})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetSession(r.Context()); err != nil {
		h.logger.Error("reset via api failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: h.svc.GetStatus(), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: h.svc.GetStatus()})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Disconnect(r.Context()); err != nil {
		h.logger.Error("logout via api failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: h.svc.GetStatus(), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: h.svc.GetStatus()})
}
