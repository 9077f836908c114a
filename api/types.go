package api

import (
	"context"
	"time"

	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/session"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Accounts registers and signs in users.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	SignIn(ctx context.Context, email, password string) (string, error)
	Profile(ctx context.Context, userID string) (*domain.Contact, error)
}

// TokenIssuer signs bearer tokens for signed-in users.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// Sessions keeps the signed-in user and the signup draft of a client.
type Sessions interface {
	Start(ctx context.Context, clientID, userID string) error
	UserID(ctx context.Context, clientID string) (string, error)
	End(ctx context.Context, clientID string) error
	SaveDraft(ctx context.Context, clientID string, d session.Draft) error
	Draft(ctx context.Context, clientID string) (session.Draft, error)
	ClearDraft(ctx context.Context, clientID string) error
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID    string          `json:"userId"`
	Token     string          `json:"token,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Profile   *domain.Contact `json:"profile,omitempty"`
}

type contactRequest struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Tel       string `json:"tel"`
	Color     string `json:"iconColor"`
}

type subtaskRequest struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Finished  bool             `json:"finished"`
	EditState domain.EditState `json:"editState"`
}

type taskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	DueDate     string           `json:"dueDate"`
	Priority    domain.Priority  `json:"priority"`
	Category    domain.Category  `json:"category"`
	Status      domain.Status    `json:"status"`
	AssignedTo  []string         `json:"assignedTo"`
	Subtasks    []subtaskRequest `json:"subtaskList"`
	Policy      string           `json:"policy"`
}

type statusRequest struct {
	Status string `json:"status"`
	// Step moves one column instead: "next" or "prev".
	Step string `json:"step"`
}

type fieldRequest struct {
	Value string `json:"value"`
}

type errorResponse struct {
	Error        string              `json:"error"`
	Fields       map[string][]string `json:"fields,omitempty"`
	Notification string              `json:"notification,omitempty"`
}
