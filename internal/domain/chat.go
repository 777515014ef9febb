package domain

import (
	"fmt"
	"time"
)

// MessageRole represents the author of a chat message
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Chat represents a tenant-scoped conversation opened by a widget session
type Chat struct {
	ID        string
	WebsiteID string
	SessionID string
	VisitorID string
	StartedAt time.Time
}

// Message represents one ordered message within a chat
type Message struct {
	ID        string
	ChatID    string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// ValidateChat validates a Chat instance
func ValidateChat(c *Chat) error {
	if c == nil {
		return fmt.Errorf("chat cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("chat ID is required")
	}

	if c.WebsiteID == "" {
		return fmt.Errorf("chat WebsiteID is required")
	}

	if c.SessionID == "" {
		return fmt.Errorf("chat SessionID is required")
	}

	return nil
}

// ValidateMessage validates a Message instance
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}

	if m.ChatID == "" {
		return fmt.Errorf("message ChatID is required")
	}

	if m.Content == "" {
		return fmt.Errorf("message Content is required")
	}

	if !IsValidMessageRole(m.Role) {
		return ErrInvalidMessageRole
	}

	return nil
}

// IsValidMessageRole checks if a MessageRole is valid
func IsValidMessageRole(r MessageRole) bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}
