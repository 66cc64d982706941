package http

import (
	"net/http"
	"time"

	"github.com/peerhub/peerhub/internal/common/constants"
	commonhttp "github.com/peerhub/peerhub/internal/common/http"
	"github.com/peerhub/peerhub/internal/common/jwtverify"
	"github.com/peerhub/peerhub/internal/common/logger"
	"github.com/peerhub/peerhub/internal/friends/service"
	userdomain "github.com/peerhub/peerhub/internal/user/domain"
)

const (
	requestsPrefix = "/api/friends/requests/"
	acceptPrefix   = "/api/friends/accept/"
)

type Handler struct {
	svc     *service.Service
	errors  *commonhttp.ErrorHandler
	timeout time.Duration
	log     *logger.Logger
}

func NewHandler(svc *service.Service, timeout time.Duration, log *logger.Logger) *Handler {
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	return &Handler{
		svc:     svc,
		errors:  commonhttp.NewErrorHandler(log),
		timeout: timeout,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(requestsPrefix,
		commonhttp.RequireMethod(http.MethodPost)(
			commonhttp.WithTimeout(h.timeout)(h.HandleSendRequest)))
	mux.HandleFunc(acceptPrefix,
		commonhttp.RequireMethod(http.MethodPost)(
			commonhttp.WithTimeout(h.timeout)(h.HandleAcceptRequest)))
}

func (h *Handler) HandleSendRequest(w http.ResponseWriter, r *http.Request) {
	caller, targetID, ok := h.resolve(w, r, requestsPrefix)
	if !ok {
		return
	}

	if err := h.svc.SendRequest(r.Context(), caller, targetID); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	caller, requesterID, ok := h.resolve(w, r, acceptPrefix)
	if !ok {
		return
	}

	if err := h.svc.AcceptRequest(r.Context(), caller, requesterID); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolve pulls the authenticated caller and the trailing user id out of
// the request, writing the error response itself when either is missing.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, prefix string) (userdomain.Summary, string, bool) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized,
			commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, "")
		return userdomain.Summary{}, "", false
	}

	id, ok := commonhttp.ExtractUserIDFromPath(r.URL.Path, prefix)
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest,
			commonhttp.CodeUserIDRequired, "user id is required", nil,
			commonhttp.TraceIDFromContext(r.Context()))
		return userdomain.Summary{}, "", false
	}

	if err := commonhttp.ValidateUUID(id); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest,
			commonhttp.CodeInvalidUserIDFormat, "user id must be a valid uuid", nil,
			commonhttp.TraceIDFromContext(r.Context()))
		return userdomain.Summary{}, "", false
	}

	return userdomain.Summary{
		ID:       userdomain.ID(claims.UserID),
		Username: claims.Username,
	}, id, true
}
