package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/verity-labs/docvox/internal/domain"
)

// APIKeyPrefix marks website admin keys. Unlike pk_ widget keys these are
// secrets and only their hash is stored.
const APIKeyPrefix = "sk_"

var apiKeyPattern = regexp.MustCompile(`^sk_[0-9a-f]{64}$`)

// APIKeyRepositoryInterface defines the repository interface for admin keys
type APIKeyRepositoryInterface interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByWebsite(ctx context.Context, websiteID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// AuthService issues and validates website admin API keys.
type AuthService struct {
	keyRepo     APIKeyRepositoryInterface
	websiteRepo WebsiteRepositoryInterface
	uuidGen     UUIDGenerator
	now         func() time.Time
}

// NewAuthService creates a new AuthService instance
func NewAuthService(keyRepo APIKeyRepositoryInterface, websiteRepo WebsiteRepositoryInterface, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		keyRepo:     keyRepo,
		websiteRepo: websiteRepo,
		uuidGen:     uuidGen,
		now:         time.Now,
	}
}

// CreateAPIKey issues a new admin key for a website and returns the
// plaintext token. The token is shown once; only its hash is persisted.
func (s *AuthService) CreateAPIKey(ctx context.Context, websiteID, name string) (string, error) {
	if websiteID == "" {
		return "", domain.ErrInvalidWebsiteID
	}
	if name == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "api key name is required")
	}

	if _, err := s.websiteRepo.GetByID(ctx, websiteID); err != nil {
		return "", err
	}

	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate api key", err)
	}

	key := domain.NewAPIKey(s.uuidGen.NewString(), websiteID, name, hashToken(token), s.now().UTC())
	if err := domain.ValidateAPIKey(key); err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid api key", err)
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateAPIKey resolves a plaintext token to the website it administers.
// Malformed tokens are rejected before any database work.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if err == domain.ErrAPIKeyNotFound {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}

	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}

	return key.WebsiteID, nil
}

// RevokeAPIKey revokes an admin key by its ID.
func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "api key ID is required")
	}
	return s.keyRepo.Revoke(ctx, keyID)
}

// ListAPIKeys returns a website's admin keys, newest first.
func (s *AuthService) ListAPIKeys(ctx context.Context, websiteID string) ([]*domain.APIKey, error) {
	if websiteID == "" {
		return nil, domain.ErrInvalidWebsiteID
	}
	return s.keyRepo.ListByWebsite(ctx, websiteID)
}

func generateAPIToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// IsValidAPIToken reports whether the string has the admin key shape.
func IsValidAPIToken(token string) bool {
	return apiKeyPattern.MatchString(token)
}
