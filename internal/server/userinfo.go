package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/project-kessel/userinfo/internal/oauth"
	"github.com/project-kessel/userinfo/internal/service"
)

// UserInfoPath is the path of the OIDC UserInfo endpoint
const UserInfoPath = "/oauth2/userinfo"

// UserInfoService answers UserInfo requests for a raw bearer token
type UserInfoService interface {
	UserInfo(ctx context.Context, bearer string) (*service.UserInfo, error)
}

// UserInfoHandler serves the OIDC UserInfo endpoint
type UserInfoHandler struct {
	service UserInfoService
	logger  *slog.Logger
	traceID func() string
}

// NewUserInfoHandler creates the UserInfo HTTP handler
func NewUserInfoHandler(svc UserInfoService, logger *slog.Logger) *UserInfoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserInfoHandler{
		service: svc,
		logger:  logger,
		traceID: uuid.NewString,
	}
}

func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		h.writeError(w, r, &oauth.Error{
			Kind:        oauth.KindClient,
			Code:        oauth.CodeInvalidRequest,
			Description: fmt.Sprintf("method %s is not allowed", r.Method),
		})
		return
	}

	bearer, err := bearerToken(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	info, err := h.service.UserInfo(r.Context(), bearer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if info.JWT != "" {
		w.Header().Set("Content-Type", "application/jwt")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(info.JWT))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(info.Claims); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write UserInfo response", "error", err)
	}
}

// bearerToken reads the access token from the Authorization header or,
// for form-encoded POSTs, the access_token parameter. Sending both is an
// invalid request.
func bearerToken(r *http.Request) (string, error) {
	var fromHeader string
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, value, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", &oauth.Error{
				Kind:        oauth.KindInvalidToken,
				Code:        oauth.CodeInvalidRequest,
				Description: "Bearer token missing",
			}
		}
		fromHeader = strings.TrimSpace(value)
	}

	var fromForm string
	if r.Method == http.MethodPost {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/x-www-form-urlencoded" {
			if err := r.ParseForm(); err != nil {
				return "", oauth.NewClientErrorCode(oauth.CodeInvalidRequest, "malformed form body")
			}
			fromForm = r.PostForm.Get("access_token")
		}
	}

	if fromHeader != "" && fromForm != "" {
		return "", oauth.NewClientErrorCode(oauth.CodeInvalidRequest, "access token sent in more than one way")
	}
	if fromHeader != "" {
		return fromHeader, nil
	}
	return fromForm, nil
}

func (h *UserInfoHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := h.traceID()
	resp, status := oauth.ResponseFor(err, traceID)

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "UserInfo request failed",
			"trace_id", traceID,
			"error", err,
		)
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer error=%q, error_description=%q",
			resp.Error, resp.ErrorDescription))
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
