package services

import (
	"context"
	"errors"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionContention  = errors.New("session update kept conflicting")
	ErrModelNotConfigured = errors.New("generative model is not configured")
)

// SessionStore keeps the abuse/developer state of every chat session.
// Update runs fn as one read-modify-write on a single session, creating the
// session when it does not exist yet. Sweep removes sessions whose lockout
// has elapsed and returns how many were removed.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Put(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, sessionID string) error
	Update(ctx context.Context, sessionID string, fn func(session *models.Session) error) (*models.Session, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Turn is one history entry in the model's user/model alternation.
type Turn struct {
	Role string
	Text string
}

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type GenerateRequest struct {
	System  string
	History []Turn
	Message string
}

// GenerateResult is the model output reduced to what the chat pipeline needs.
type GenerateResult struct {
	Text         string
	Blocked      bool
	Empty        bool
	FinishReason string
}

// Generator is the external generative-language model.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// SessionGuard inspects user input before it is forwarded to the model.
type SessionGuard interface {
	Inspect(ctx context.Context, sessionID, content string, silence bool) (*Verdict, error)
}
