package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/peerhub/peerhub/internal/common/constants"
	commonerrors "github.com/peerhub/peerhub/internal/common/errors"
	commonhttp "github.com/peerhub/peerhub/internal/common/http"
	"github.com/peerhub/peerhub/internal/common/jwtverify"
	"github.com/peerhub/peerhub/internal/common/logger"
	"github.com/peerhub/peerhub/internal/presence/hub"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
	userrepo "github.com/peerhub/peerhub/internal/user/repository"
)

// UserDirectory is the read side of the user store the admission and
// presence queries need.
type UserDirectory interface {
	FindByID(ctx context.Context, id userdomain.ID) (userdomain.User, error)
	FriendsOf(ctx context.Context, id userdomain.ID) ([]userdomain.ID, error)
}

type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMsgSize     int64
	SendBufSize    int
	RequestTimeout time.Duration
}

type Handler struct {
	hub      *hub.Hub
	users    UserDirectory
	cfg      Config
	upgrader gorillaWS.Upgrader
	errors   *commonhttp.ErrorHandler
	log      *logger.Logger
}

func NewHandler(h *hub.Hub, users UserDirectory, cfg Config, log *logger.Logger) *Handler {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = constants.DefaultWebSocketWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = constants.DefaultWebSocketPongWait
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = constants.DefaultWebSocketPingPeriod
	}
	if cfg.MaxMsgSize <= 0 {
		cfg.MaxMsgSize = constants.DefaultWebSocketMaxMsgSize
	}
	if cfg.SendBufSize <= 0 {
		cfg.SendBufSize = constants.DefaultWebSocketSendBufSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = constants.DefaultRequestTimeout
	}

	return &Handler{
		hub:   h,
		users: users,
		cfg:   cfg,
		upgrader: gorillaWS.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		errors: commonhttp.NewErrorHandler(log),
		log:    log,
	}
}

// RegisterRoutes mounts the WebSocket endpoint and presence queries. All
// routes expect the JWT middleware to have run already.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/api/presence/online",
		commonhttp.RequireMethod(http.MethodGet)(
			commonhttp.WithTimeout(h.cfg.RequestTimeout)(h.HandleOnline)))
}

// HandleWebSocket admits one authenticated connection into the hub. The
// user and friend snapshot are resolved before the upgrade so a failed
// lookup still produces a plain HTTP error.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized,
			commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	user, err := h.users.FindByID(ctx, userdomain.ID(claims.UserID))
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			h.errors.HandleError(w, r, commonerrors.ErrUserNotFound)
			return
		}
		h.errors.HandleError(w, r, commonerrors.ErrUserLookupFailed.WithCause(err))
		return
	}

	friends, err := h.users.FriendsOf(ctx, user.ID)
	if err != nil {
		h.errors.HandleError(w, r, commonerrors.ErrUserLookupFailed.WithCause(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own handshake error response.
		h.log.Warnf("websocket upgrade failed user_id=%s: %v", claims.UserID, err)
		return
	}

	client := hub.NewClient(h.hub, conn, string(user.ID), user.Username, friends, hub.ClientConfig{
		WriteWait:   h.cfg.WriteWait,
		PongWait:    h.cfg.PongWait,
		PingPeriod:  h.cfg.PingPeriod,
		MaxMsgSize:  h.cfg.MaxMsgSize,
		SendBufSize: h.cfg.SendBufSize,
	}, h.log)
	client.Start()

	h.log.WithFields(r.Context(), logger.Fields{
		"user_id":  claims.UserID,
		"username": user.Username,
		"ip":       commonhttp.GetClientIP(r),
		"action":   "ws_admitted",
	}).Info("websocket connection admitted")
}

type onlineResponse struct {
	Online []string `json:"online"`
}

// HandleOnline returns the caller's friends that currently hold a live
// connection.
func (h *Handler) HandleOnline(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized,
			commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, "")
		return
	}

	friends, err := h.users.FriendsOf(r.Context(), userdomain.ID(claims.UserID))
	if err != nil {
		h.errors.HandleError(w, r, commonerrors.ErrUserLookupFailed.WithCause(err))
		return
	}

	connected := make(map[string]struct{})
	for _, id := range h.hub.ConnectedIDs() {
		connected[id] = struct{}{}
	}

	online := make([]string, 0, len(friends))
	for _, id := range friends {
		if _, ok := connected[string(id)]; ok {
			online = append(online, string(id))
		}
	}

	commonhttp.WriteJSON(w, http.StatusOK, onlineResponse{Online: online})
}
