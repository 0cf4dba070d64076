package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efojunior25/payment-system/internal/domain"
)

// UserRepository implements domain.UserRepository in memory. Users change
// rarely, so one lock guards the rows and both unique indexes.
type UserRepository struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]domain.User
	byEmail    map[string]uuid.UUID
	byDocument map[string]uuid.UUID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:      make(map[uuid.UUID]domain.User),
		byEmail:    make(map[string]uuid.UUID),
		byDocument: make(map[string]uuid.UUID),
	}
}

// checkUnique must be called with mu held. self is ignored so a user can keep its own values.
func (r *UserRepository) checkUnique(u *domain.User, self uuid.UUID) error {
	if id, taken := r.byEmail[u.Email]; taken && id != self {
		return domain.ErrDuplicateEmail
	}
	if id, taken := r.byDocument[u.Document]; taken && id != self {
		return domain.ErrDuplicateDocument
	}
	return nil
}

// Create persists a new user.
func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUnique(user, uuid.Nil); err != nil {
		return err
	}
	r.users[user.ID] = *user
	r.byEmail[user.Email] = user.ID
	r.byDocument[user.Document] = user.ID
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) GetByDocument(ctx context.Context, document string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byDocument[document]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

// ListActive returns the active users, oldest first.
func (r *UserRepository) ListActive(_ context.Context) ([]*domain.User, error) {
	return r.filter(func(u *domain.User) bool { return u.Active }), nil
}

// List returns a page of all users, oldest first.
func (r *UserRepository) List(_ context.Context, page domain.PageRequest) (domain.Page[*domain.User], error) {
	page = page.Normalize()
	all := r.filter(func(*domain.User) bool { return true })

	start := min(page.Offset(), len(all))
	end := min(start+page.Size, len(all))
	return domain.Page[*domain.User]{
		Items: all[start:end],
		Page:  page.Page,
		Size:  page.Size,
		Total: len(all),
	}, nil
}

func (r *UserRepository) filter(keep func(*domain.User) bool) []*domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.User, 0)
	for _, u := range r.users {
		if keep(&u) {
			result = append(result, &u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// Update stores the profile fields of user.
func (r *UserRepository) Update(_ context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if err := r.checkUnique(user, user.ID); err != nil {
		return nil, err
	}

	delete(r.byEmail, stored.Email)
	delete(r.byDocument, stored.Document)
	stored.Email = user.Email
	stored.Document = user.Document
	stored.FullName = user.FullName
	stored.Phone = user.Phone
	stored.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = stored
	r.byEmail[stored.Email] = stored.ID
	r.byDocument[stored.Document] = stored.ID
	return &stored, nil
}

// SetActive sets the active flag.
func (r *UserRepository) SetActive(_ context.Context, id uuid.UUID, active bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	stored.Active = active
	stored.UpdatedAt = time.Now().UTC()
	r.users[id] = stored
	return &stored, nil
}
