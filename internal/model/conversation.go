// Package model defines API-facing data structures for the timeline service.
package model

import (
	"time"
)

// Conversation is the metadata record for one open conversation. The
// renderable state itself lives in the timeline store.
type Conversation struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Streaming bool              `json:"streaming"`
}

// OpenConversationRequest is the request to open a conversation.
type OpenConversationRequest struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
