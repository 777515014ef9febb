package domain

import (
	"fmt"
	"strings"
	"time"
)

// Website represents a tenant. Every document, chunk, and chat belongs to
// exactly one website and no operation may cross website boundaries.
type Website struct {
	ID        string
	Name      string
	Domain    string
	PublicKey string
	CreatedAt time.Time
}

// NewWebsite creates a new Website instance
func NewWebsite(id, name, domain, publicKey string, createdAt time.Time) *Website {
	return &Website{
		ID:        id,
		Name:      name,
		Domain:    strings.ToLower(strings.TrimSpace(domain)),
		PublicKey: publicKey,
		CreatedAt: createdAt,
	}
}

// ValidateWebsite validates a Website instance
func ValidateWebsite(w *Website) error {
	if w == nil {
		return fmt.Errorf("website cannot be nil")
	}

	if w.ID == "" {
		return fmt.Errorf("website ID is required")
	}

	if w.Name == "" {
		return fmt.Errorf("website Name is required")
	}

	if w.Domain == "" {
		return fmt.Errorf("website Domain is required")
	}

	return nil
}

// AllowsOrigin reports whether the given origin host belongs to this
// website's registered domain. Exact match or a www. variant qualifies.
func (w *Website) AllowsOrigin(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || w.Domain == "" {
		return false
	}
	if host == w.Domain {
		return true
	}
	if strings.HasPrefix(w.Domain, "www.") && host == w.Domain[4:] {
		return true
	}
	if strings.HasPrefix(host, "www.") && host[4:] == w.Domain {
		return true
	}
	return false
}
