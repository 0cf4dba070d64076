package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserService manages account owners.
type UserService struct {
	users  UserRepository
	audit  AuditSink
	logger *zap.Logger
}

// NewUserService creates a new UserService.
// Pass nil for audit if no audit events should be emitted.
func NewUserService(users UserRepository, audit AuditSink) *UserService {
	if audit == nil {
		audit = nopAuditSink{}
	}
	return &UserService{
		users:  users,
		audit:  audit,
		logger: zap.L().Named("user_service"),
	}
}

// CreateUser registers a new active user. Email and document must be unused.
func (s *UserService) CreateUser(ctx context.Context, req UserRequest) (*User, error) {
	req, err := validateUserRequest(req)
	if err != nil {
		return nil, err
	}

	user := NewUser(req)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit.Record(ctx, EntityUser, user.ID.String(), ActionCreate, map[string]any{
		"description": "user created",
		"email":       user.Email,
	})
	s.logger.Info("User created", zap.String("user_id", user.ID.String()))
	return user, nil
}

// GetUser retrieves a user by id.
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.users.GetByEmail(ctx, NormalizeEmail(email))
}

func (s *UserService) GetUserByDocument(ctx context.Context, document string) (*User, error) {
	return s.users.GetByDocument(ctx, strings.TrimSpace(document))
}

func (s *UserService) ListActiveUsers(ctx context.Context) ([]*User, error) {
	return s.users.ListActive(ctx)
}

// ListUsers pages through all users, oldest first.
func (s *UserService) ListUsers(ctx context.Context, page PageRequest) (Page[*User], error) {
	return s.users.List(ctx, page.Normalize())
}

// UpdateUser replaces the profile of an existing user.
func (s *UserService) UpdateUser(ctx context.Context, id uuid.UUID, req UserRequest) (*User, error) {
	req, err := validateUserRequest(req)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Email = req.Email
	user.Document = req.Document
	user.FullName = req.FullName
	user.Phone = req.Phone

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.audit.Record(ctx, EntityUser, id.String(), ActionUpdate, map[string]any{
		"description": "user updated",
		"email":       updated.Email,
	})
	s.logger.Info("User updated", zap.String("user_id", id.String()))
	return updated, nil
}

// ActivateUser lets the user open accounts again.
func (s *UserService) ActivateUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.setActive(ctx, id, true)
}

// DeactivateUser stops the user from opening new accounts. Existing
// accounts are left as they are.
func (s *UserService) DeactivateUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.setActive(ctx, id, false)
}

func (s *UserService) setActive(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	user, err := s.users.SetActive(ctx, id, active)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to change user activation: %w", err)
	}

	description := "user deactivated"
	if active {
		description = "user activated"
	}
	s.audit.Record(ctx, EntityUser, id.String(), ActionUpdate, map[string]any{
		"description": description,
		"active":      active,
	})
	s.logger.Info("User activation changed",
		zap.String("user_id", id.String()),
		zap.Bool("active", active),
	)
	return user, nil
}

// EmailExists reports whether a user is registered with email.
func (s *UserService) EmailExists(ctx context.Context, email string) (bool, error) {
	return exists(s.GetUserByEmail(ctx, email))
}

// DocumentExists reports whether a user is registered with document.
func (s *UserService) DocumentExists(ctx context.Context, document string) (bool, error) {
	return exists(s.GetUserByDocument(ctx, document))
}

func exists(_ *User, err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
