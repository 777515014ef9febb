package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/verity-labs/docvox/internal/api"
	"github.com/verity-labs/docvox/internal/api/middleware"
	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/service"
)

type DocumentService interface {
	Ingest(ctx context.Context, input service.IngestInput) (*domain.Document, error)
	GetDocument(ctx context.Context, websiteID, documentID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, input service.ListDocumentsInput) (*service.ListDocumentsOutput, error)
	DeleteDocument(ctx context.Context, websiteID, documentID string) error
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// authorizeWebsite checks the route's website against the one the API key
// middleware authenticated. A key for tenant A must not touch tenant B.
func authorizeWebsite(w http.ResponseWriter, r *http.Request) (string, bool) {
	websiteID := chi.URLParam(r, "websiteID")
	if websiteID == "" {
		api.Error(w, http.StatusBadRequest, "website id is required")
		return "", false
	}
	if middleware.GetWebsiteID(r.Context()) != websiteID {
		api.HandleError(w, domain.ErrWebsiteAccessDenied)
		return "", false
	}
	return websiteID, true
}

type IngestDocumentRequest struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text"`
}

type DocumentResponse struct {
	ID           string `json:"id"`
	WebsiteID    string `json:"website_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	Status       string `json:"status"`
	Checksum     string `json:"checksum"`
	SizeBytes    int64  `json:"size_bytes"`
	FailedChunks int    `json:"failed_chunks,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:           d.ID,
		WebsiteID:    d.WebsiteID,
		FileName:     d.FileName,
		MimeType:     d.MimeType,
		Status:       string(d.Status),
		Checksum:     d.Checksum,
		SizeBytes:    d.SizeBytes,
		FailedChunks: d.FailedChunks,
		CreatedAt:    d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:    d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	websiteID, ok := authorizeWebsite(w, r)
	if !ok {
		return
	}

	var req IngestDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.FileName == "" {
		api.Error(w, http.StatusBadRequest, "file_name is required")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	doc, err := h.svc.Ingest(r.Context(), service.IngestInput{
		WebsiteID: websiteID,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		Text:      req.Text,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	websiteID, ok := authorizeWebsite(w, r)
	if !ok {
		return
	}
	documentID := chi.URLParam(r, "id")

	doc, err := h.svc.GetDocument(r.Context(), websiteID, documentID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	websiteID, ok := authorizeWebsite(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.ListDocuments(r.Context(), service.ListDocumentsInput{
		WebsiteID: websiteID,
		Cursor:    r.URL.Query().Get("cursor"),
		Limit:     limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &DocumentListResponse{
		Items:   make([]*DocumentResponse, 0, len(out.Items)),
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	}
	for _, d := range out.Items {
		resp.Items = append(resp.Items, documentToResponse(d))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	websiteID, ok := authorizeWebsite(w, r)
	if !ok {
		return
	}
	documentID := chi.URLParam(r, "id")

	if err := h.svc.DeleteDocument(r.Context(), websiteID, documentID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}
