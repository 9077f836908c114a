// Package account registers users and checks their credentials.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/elma1989/join/domain"
)

// Repository is what the service needs from the document store.
type Repository interface {
	Insert(ctx context.Context, e domain.Entity) (string, error)
	Put(ctx context.Context, e domain.Entity) error
	Delete(ctx context.Context, coll domain.Collection, id string) error
	Get(ctx context.Context, coll domain.Collection, id string) (domain.Document, error)
}

// Service registers and signs in users. A user is a contact plus an account
// record keyed by email that points at the contact.
type Service struct {
	repo   Repository
	cost   int
	logger *log.Logger
}

func NewService(repo Repository, cost int, logger *log.Logger) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{repo: repo, cost: cost, logger: logger}
}

// Register creates the contact and the account of a new user.
func (s *Service) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	email = normalizeEmail(email)
	if _, err := s.repo.Get(ctx, domain.AccountsCollection, email); err == nil {
		return nil, domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	first, last := SplitName(name)
	user := &domain.User{Contact: *domain.NewContact(first, last, email, ""), Password: password}
	id, err := s.repo.Insert(ctx, &user.Contact)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	user.ID = id

	acc := &domain.Account{Email: email, UserID: id, PasswordHash: string(hash)}
	if err := s.repo.Put(ctx, acc); err != nil {
		if derr := s.repo.Delete(ctx, domain.ContactsCollection, id); derr != nil {
			s.logger.WithError(derr).WithField("contact", id).Error("remove contact of failed registration")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	user.Password = ""
	s.logger.WithField("user", id).Info("user registered")
	return user, nil
}

// SignIn checks the credentials and returns the user id.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, error) {
	doc, err := s.repo.Get(ctx, domain.AccountsCollection, normalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	acc := domain.AccountFromDocument(doc)
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", domain.ErrInvalidCredentials
	}
	return acc.UserID, nil
}

// Profile loads the contact of a user.
func (s *Service) Profile(ctx context.Context, userID string) (*domain.Contact, error) {
	doc, err := s.repo.Get(ctx, domain.ContactsCollection, userID)
	if err != nil {
		return nil, err
	}
	return domain.ContactFromDocument(doc)
}

// SplitName splits a full name at its last space into first and last name.
func SplitName(name string) (first, last string) {
	name = strings.Join(strings.Fields(name), " ")
	i := strings.LastIndexByte(name, ' ')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
