package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/auth"
	"github.com/coldroot-labs/barc/internal/wsapi"
)

// WSHandler handles the WebSocket upgrade endpoint GET /api/v1/ws.
// Authentication uses a JWT in the `token` query parameter since
// browsers cannot set custom headers on a WebSocket handshake.
//
// Example: ws://host/api/v1/ws?token=<jwt>&jobs=uuid1,uuid2
type WSHandler struct {
	hub    *wsapi.Hub
	svc    *auth.AuthService
	logger *zap.Logger
}

// NewWSHandler returns a WSHandler.
func NewWSHandler(hub *wsapi.Hub, svc *auth.AuthService, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, svc: svc, logger: logger.Named("ws_handler")}
}

// ServeWS handles GET /api/v1/ws.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		errUnauthorized(w)
		return
	}
	if _, err := h.svc.ValidateAccessToken(tokenStr); err != nil {
		errUnauthorized(w)
		return
	}

	topics := h.resolveTopics(r)

	client, err := wsapi.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("ws: client connected", zap.String("remote_addr", r.RemoteAddr), zap.Strings("topics", topics))
	client.Run()
	h.logger.Info("ws: client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// resolveTopics turns the `jobs` query parameter into job:<uuid> topics.
func (h *WSHandler) resolveTopics(r *http.Request) []string {
	seen := make(map[string]struct{})
	var topics []string
	add := func(uuid string) {
		uuid = strings.TrimSpace(uuid)
		if uuid == "" {
			return
		}
		topic := wsapi.JobTopic(uuid)
		if _, exists := seen[topic]; !exists {
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}

	if raw := r.URL.Query().Get("jobs"); raw != "" {
		for _, uuid := range strings.Split(raw, ",") {
			add(uuid)
		}
	}
	return topics
}
