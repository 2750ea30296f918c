// Package authpw provides email/password authentication for principals.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"huddle/api/internal/store"
	"huddle/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// PrincipalStore defines the storage interface for identity.
type PrincipalStore interface {
	GetPrincipalByEmail(ctx context.Context, email string) (store.Principal, error)
	InsertPrincipal(ctx context.Context, principal store.Principal) error
}

type Service struct {
	store PrincipalStore
}

func NewService(principalStore PrincipalStore) *Service {
	return &Service{store: principalStore}
}

type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Principal, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	if email == "" || req.Password == "" || name == "" {
		return store.Principal{}, errors.New("email, password, and name are required")
	}
	if len(req.Password) < 8 {
		return store.Principal{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetPrincipalByEmail(ctx, email); err == nil {
		return store.Principal{}, ErrEmailExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Principal{}, fmt.Errorf("lookup principal: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.Principal{}, fmt.Errorf("hash password: %w", err)
	}

	principal := store.Principal{
		ID:           util.NewID("pr"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.InsertPrincipal(ctx, principal); err != nil {
		return store.Principal{}, fmt.Errorf("create principal: %w", err)
	}
	return principal, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (store.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.Principal{}, ErrInvalidCredentials
	}

	principal, err := s.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		return store.Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)); err != nil {
		return store.Principal{}, ErrInvalidCredentials
	}
	return principal, nil
}
