package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"emprofiler/internal/config"
	apierrors "emprofiler/internal/errors"
)

// Handler upgrades HTTP requests on /ws and hands the connection to the hub
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler. An empty allowedOrigins list, or one
// containing "*", accepts any origin.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = hub.logger
	}
	h := &Handler{
		hub:    hub,
		logger: logger.With(slog.String("component", "websocket.handler")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(allowedOrigins),
		Error:           h.upgradeError,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no origin
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	h.logger.WarnContext(r.Context(), "websocket upgrade failed",
		slog.Int("status", status),
		slog.String("reason", reason.Error()),
		slog.String("origin", r.Header.Get("Origin")),
	)
	problem := apierrors.NewProblemDetails(status, apierrors.TypeWebSocketUpgrade,
		"WebSocket Upgrade Failed", reason.Error(), r.URL.Path).
		WithExtension("trace_id", middleware.GetReqID(r.Context()))
	render.Render(w, r, problem)
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgradeError already answered
		return
	}

	reqID := middleware.GetReqID(r.Context())
	client := ServeWS(h.hub, conn, conn.RemoteAddr().String(), reqID)
	h.logger.InfoContext(r.Context(), "websocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)
}
