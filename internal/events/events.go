package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SubjectEmailVerification = "auth.email.verification"
	SubjectPasswordReset     = "auth.password.reset"
	SubjectIdentityReviewed  = "identity.reviewed"
	SubjectDeadLetter        = "notification.failed"
)

type EmailVerificationEvent struct {
	EventType string    `json:"event_type"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PasswordResetEvent struct {
	EventType string    `json:"event_type"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ResetURL  string    `json:"reset_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type IdentityReviewedEvent struct {
	EventType    string     `json:"event_type"`
	IdentityID   uuid.UUID  `json:"identity_id"`
	UserID       uuid.UUID  `json:"user_id"`
	IdentityType string     `json:"identity_type"`
	Status       string     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// NotificationFailedEvent is what lands on the dead letter subject once a
// message exhausted its delivery attempts.
type NotificationFailedEvent struct {
	EventType string          `json:"event_type"`
	Subject   string          `json:"subject"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error"`
	FailedAt  time.Time       `json:"failed_at"`
	Payload   json.RawMessage `json:"payload"`
}
