package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
	"go.uber.org/zap"
)

const maxBodySize = 64 << 10

// Service is the connection manager surface exposed over HTTP.
type Service interface {
	GetStatus() status.Status
	Start(ctx context.Context) error
	ResetSession(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendMessage(ctx context.Context, conversationID, text string) (*store.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
}

// Handler serves the control API. A non-empty token requires
// "Authorization: Bearer <token>" on every route.
type Handler struct {
	svc    Service
	token  string
	logger *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc Service, token string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, token: token, logger: logger}
}

// RegisterRoutes registers the API routes on mux. push, when set, is served
// on /ws behind the same auth.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, push http.Handler) {
	mux.HandleFunc("GET /api/status", h.auth(h.handleStatus))
	mux.HandleFunc("POST /api/session/start", h.auth(h.handleStart))
	mux.HandleFunc("POST /api/session/reset", h.auth(h.handleReset))
	mux.HandleFunc("POST /api/session/logout", h.auth(h.handleLogout))
	mux.HandleFunc("POST /api/messages", h.auth(h.handleSend))
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.auth(h.handleMessages))
	if push != nil {
		mux.HandleFunc("GET /ws", h.auth(push.ServeHTTP))
	}
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// bearerToken reads the Authorization header, or the token query parameter
// for browser WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.URL.Query().Get("token")
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
