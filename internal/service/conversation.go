// Package service provides business logic composing the timeline engine
// with its transport and history collaborators.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadencehq/agent-timeline/internal/model"
	"github.com/cadencehq/agent-timeline/internal/timeline"
	"github.com/cadencehq/agent-timeline/pkg/logger"
	"github.com/cadencehq/agent-timeline/pkg/metrics"
)

// ErrConversationNotFound hides tenant mismatches and missing ids behind
// one answer.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService owns conversation metadata and the stream admission
// lifecycle around the timeline store.
type ConversationService struct {
	store  *timeline.Store
	logger *logger.Logger

	// In-memory metadata records (would be replaced with a database in
	// production).
	conversations map[string]*model.Conversation
	mu            sync.RWMutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(store *timeline.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:         store,
		logger:        log,
		conversations: make(map[string]*model.Conversation),
	}
}

// Open registers a conversation and creates its empty timeline state.
// Events for a conversation are routable only after it is opened.
func (s *ConversationService) Open(ctx context.Context, tenantID, userID string, req *model.OpenConversationRequest) (*model.Conversation, error) {
	id := req.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	if _, err := s.store.Open(id); err != nil {
		return nil, fmt.Errorf("failed to open timeline state: %w", err)
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  req.Metadata,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	metrics.ConversationsOpen.Inc()
	s.logger.Info("conversation opened",
		zap.String("conversation_id", conv.ID),
		zap.String("tenant_id", tenantID),
	)

	return conv, nil
}

// Get retrieves a conversation's metadata, scoped to its tenant.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	conv, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists || conv.TenantID != tenantID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// List retrieves conversations for a tenant.
func (s *ConversationService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID {
			convs = append(convs, *conv)
		}
	}

	// Simple pagination
	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListConversationsResponse{
		Conversations: convs[start:end],
		Total:         total,
		HasMore:       end < total,
	}, nil
}

// Close discards a conversation's metadata and timeline state, releasing
// its streaming slot if one is held.
func (s *ConversationService) Close(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return ErrConversationNotFound
	}

	if conv.Streaming {
		s.store.ReleaseStream()
		metrics.StreamingConversations.Dec()
	}
	delete(s.conversations, conversationID)

	if err := s.store.Close(conversationID); err != nil {
		return fmt.Errorf("failed to close timeline state: %w", err)
	}

	metrics.ConversationsOpen.Dec()
	return nil
}

// StartStream claims a streaming slot for a conversation. Saturation of
// the cap is a rejection for the caller to handle, never a queue.
func (s *ConversationService) StartStream(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return ErrConversationNotFound
	}
	if conv.Streaming {
		return nil
	}

	if err := s.store.TryAcquireStream(); err != nil {
		metrics.AdmissionRejections.Inc()
		s.logger.Warn("stream admission rejected",
			zap.String("conversation_id", conversationID),
			zap.Int("streaming", s.store.StreamingCount()),
		)
		return err
	}

	conv.Streaming = true
	conv.UpdatedAt = time.Now()
	metrics.StreamingConversations.Inc()
	return nil
}

// StopStream releases a conversation's streaming slot and aborts its live
// stream: open buffers are flushed into incomplete entries, never dropped.
func (s *ConversationService) StopStream(ctx context.Context, tenantID, conversationID string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return ErrConversationNotFound
	}
	if !conv.Streaming {
		return nil
	}

	if _, err := s.store.Abort(conversationID, failed); err != nil {
		return fmt.Errorf("failed to abort stream: %w", err)
	}

	conv.Streaming = false
	conv.UpdatedAt = time.Now()
	s.store.ReleaseStream()
	metrics.StreamingConversations.Dec()
	return nil
}
