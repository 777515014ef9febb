package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/verity-labs/docvox/internal/domain"
)

// WebsiteRepositoryInterface defines the repository interface for tenants
type WebsiteRepositoryInterface interface {
	Create(ctx context.Context, w *domain.Website) error
	GetByID(ctx context.Context, id string) (*domain.Website, error)
	GetByPublicKey(ctx context.Context, publicKey string) (*domain.Website, error)
	List(ctx context.Context) ([]*domain.Website, error)
	Delete(ctx context.Context, id string) error
}

// PublicKeyPrefix marks widget keys so they are recognizable in markup and
// logs without being secret.
const PublicKeyPrefix = "pk_"

var publicKeyPattern = regexp.MustCompile(`^pk_[0-9a-f]{48}$`)

// WebsiteService manages tenant registration.
type WebsiteService struct {
	repo    WebsiteRepositoryInterface
	uuidGen UUIDGenerator
	now     func() time.Time
}

// NewWebsiteService creates a new WebsiteService instance
func NewWebsiteService(repo WebsiteRepositoryInterface, uuidGen UUIDGenerator) *WebsiteService {
	return &WebsiteService{
		repo:    repo,
		uuidGen: uuidGen,
		now:     time.Now,
	}
}

// WithClock overrides the clock (for testing).
func (s *WebsiteService) WithClock(now func() time.Time) *WebsiteService {
	s.now = now
	return s
}

// Create registers a tenant and issues its widget public key.
func (s *WebsiteService) Create(ctx context.Context, name, siteDomain string) (*domain.Website, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "website name is required")
	}
	if strings.TrimSpace(siteDomain) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "website domain is required")
	}

	publicKey, err := GeneratePublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}

	website := domain.NewWebsite(s.uuidGen.NewString(), name, siteDomain, publicKey, s.now().UTC())
	if err := domain.ValidateWebsite(website); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid website", err)
	}

	if err := s.repo.Create(ctx, website); err != nil {
		return nil, err
	}
	return website, nil
}

// GetByPublicKey resolves the tenant owning a widget key.
func (s *WebsiteService) GetByPublicKey(ctx context.Context, publicKey string) (*domain.Website, error) {
	if !IsValidPublicKey(publicKey) {
		return nil, domain.ErrWebsiteNotFound
	}
	return s.repo.GetByPublicKey(ctx, publicKey)
}

// List returns all registered websites, newest first.
func (s *WebsiteService) List(ctx context.Context) ([]*domain.Website, error) {
	return s.repo.List(ctx)
}

// Delete removes a tenant. Documents, chunks, and chats cascade in the
// database.
func (s *WebsiteService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidWebsiteID
	}
	return s.repo.Delete(ctx, id)
}

// GeneratePublicKey returns a new widget key: pk_ plus 48 hex characters.
func GeneratePublicKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return PublicKeyPrefix + hex.EncodeToString(buf), nil
}

// IsValidPublicKey reports whether the string has the widget key shape.
func IsValidPublicKey(key string) bool {
	return publicKeyPattern.MatchString(key)
}
