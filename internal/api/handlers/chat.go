package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/verity-labs/docvox/internal/api"
	"github.com/verity-labs/docvox/internal/api/middleware"
	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/service"
)

type ChatStreamService interface {
	Stream(ctx context.Context, req service.StreamRequest, sink service.EventSink) error
}

type WebsiteResolver interface {
	GetByPublicKey(ctx context.Context, publicKey string) (*domain.Website, error)
}

type ChatHandler struct {
	svc      ChatStreamService
	websites WebsiteResolver
}

func NewChatHandler(svc ChatStreamService, websites WebsiteResolver) *ChatHandler {
	return &ChatHandler{svc: svc, websites: websites}
}

type ChatStreamRequest struct {
	PublicKey string `json:"public_key"`
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id,omitempty"`
	Message   string `json:"message"`
}

// Stream answers one visitor message over SSE. All validation happens
// before the stream opens; once the first byte is written, failures travel
// as a final event on the stream itself.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.PublicKey == "" {
		api.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}
	if req.SessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	website, err := h.websites.GetByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if !originAllowed(r, website) {
		api.HandleError(w, domain.ErrOriginNotAllowed)
		return
	}

	// Shared header map, so the outer access log and Sentry middleware
	// pick the tenant up even though they wrap this handler.
	r.Header.Set("X-Website-ID", website.ID)
	ctx := middleware.WithWebsiteID(r.Context(), website.ID)

	sink, err := api.NewSSEWriter(w)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	streamReq := service.StreamRequest{
		WebsiteID: website.ID,
		SessionID: req.SessionID,
		VisitorID: req.VisitorID,
		ClientID:  middleware.ClientIP(r),
		Message:   req.Message,
		RequestID: middleware.GetRequestID(ctx),
	}

	if err := h.svc.Stream(ctx, streamReq, sink); err != nil {
		// Headers are gone; nothing left to do but record it.
		log.Printf("chat_stream_error: website=%s err=%v", website.ID, err)
	}
}

// originAllowed checks the request Origin against the website's registered
// domain. Requests without an Origin header (server-to-server, curl) pass.
func originAllowed(r *http.Request, website *domain.Website) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	return website.AllowsOrigin(parsed.Hostname())
}
