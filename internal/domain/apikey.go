package domain

import (
	"fmt"
	"time"
)

// APIKey is an admin credential for a website's document management API.
// Only the hash of the secret is ever stored.
type APIKey struct {
	ID        string
	WebsiteID string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// NewAPIKey creates a new APIKey instance
func NewAPIKey(id, websiteID, name, keyHash string, createdAt time.Time) *APIKey {
	return &APIKey{
		ID:        id,
		WebsiteID: websiteID,
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: createdAt,
	}
}

// IsRevoked returns true if the API key has been revoked
func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

// ValidateAPIKey validates an APIKey instance
func ValidateAPIKey(a *APIKey) error {
	if a == nil {
		return fmt.Errorf("api key cannot be nil")
	}

	if a.ID == "" {
		return fmt.Errorf("api key ID is required")
	}

	if a.WebsiteID == "" {
		return fmt.Errorf("api key WebsiteID is required")
	}

	if a.Name == "" {
		return fmt.Errorf("api key Name is required")
	}

	if a.KeyHash == "" {
		return fmt.Errorf("api key KeyHash is required")
	}

	return nil
}
