package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/efojunior25/payment-system/internal/domain"
)

const userColumns = `id, email, document, full_name, phone, is_active, created_at, updated_at`

// UserRepository implements domain.UserRepository using PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Document,
		&u.FullName,
		&u.Phone,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectUsers(rows pgx.Rows) ([]*domain.User, error) {
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// duplicateUserError maps a unique violation on users to its domain error.
func duplicateUserError(err error) error {
	constraint, ok := pgUniqueViolation(err)
	if !ok {
		return nil
	}
	if constraint == "users_document_key" {
		return domain.ErrDuplicateDocument
	}
	return domain.ErrDuplicateEmail
}

// Create persists a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, document, full_name, phone, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		user.ID,
		user.Email,
		user.Document,
		user.FullName,
		user.Phone,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateUserError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) getBy(ctx context.Context, column string, value any) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	u, err := scanUser(conn(ctx, r.pool).QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return u, nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail retrieves a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", email)
}

// GetByDocument retrieves a user by document.
func (r *UserRepository) GetByDocument(ctx context.Context, document string) (*domain.User, error) {
	return r.getBy(ctx, "document", document)
}

// ListActive returns the active users, oldest first.
func (r *UserRepository) ListActive(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active ORDER BY created_at`

	rows, err := conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return collectUsers(rows)
}

// List returns a page of all users, oldest first.
func (r *UserRepository) List(ctx context.Context, page domain.PageRequest) (domain.Page[*domain.User], error) {
	page = page.Normalize()
	q := conn(ctx, r.pool)
	result := domain.Page[*domain.User]{Page: page.Page, Size: page.Size}

	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at LIMIT $1 OFFSET $2`
	rows, err := q.Query(ctx, query, page.Size, page.Offset())
	if err != nil {
		return result, fmt.Errorf("failed to list users: %w", err)
	}
	result.Items, err = collectUsers(rows)
	if err != nil {
		return result, err
	}
	return result, nil
}

// Update stores the profile fields of user.
func (r *UserRepository) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
		UPDATE users
		SET email = $2,
		    document = $3,
		    full_name = $4,
		    phone = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(conn(ctx, r.pool).QueryRow(ctx, query,
		user.ID, user.Email, user.Document, user.FullName, user.Phone,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		if dup := duplicateUserError(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return u, nil
}

// SetActive sets the active flag.
func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) (*domain.User, error) {
	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + userColumns

	u, err := scanUser(conn(ctx, r.pool).QueryRow(ctx, query, id, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to set user activation: %w", err)
	}
	return u, nil
}
