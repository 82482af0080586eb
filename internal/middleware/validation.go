package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

func isSafeIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}

// ValidateConversationID validates a conversation ID. IDs minted by the
// service are UUIDv7, but callers may supply their own, so any short
// URL-safe identifier is accepted.
func ValidateConversationID(id string) error {
	if len(id) == 0 {
		return errors.New("conversation ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("conversation ID exceeds maximum length")
	}
	if _, err := uuid.Parse(id); err == nil {
		return nil
	}
	for _, r := range id {
		if !isSafeIDRune(r) {
			return errors.New("invalid conversation ID format")
		}
	}
	return nil
}

// ValidateRequestID validates a HITL request ID.
func ValidateRequestID(id string) error {
	if len(id) == 0 {
		return errors.New("request ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("request ID exceeds maximum length")
	}
	return nil
}

// ValidateAnswer validates a HITL answer body.
func ValidateAnswer(answer string) error {
	if len(answer) > 100000 { // ~100KB limit
		return errors.New("answer exceeds maximum length")
	}
	if !utf8.ValidString(answer) {
		return errors.New("answer must be valid UTF-8")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
