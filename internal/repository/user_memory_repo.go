package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"magiclink/internal/entity"

	"github.com/google/uuid"
)

var ErrDuplicateUser = errors.New("user with this email or username already exists")

type UserMemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*entity.User
}

func NewUserMemoryRepository() *UserMemoryRepository {
	return &UserMemoryRepository{users: make(map[uuid.UUID]*entity.User)}
}

func (r *UserMemoryRepository) Create(ctx context.Context, user *entity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return ErrDuplicateUser
		}
		if user.Username != nil && existing.Username != nil && *existing.Username == *user.Username {
			return ErrDuplicateUser
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	stored := *user
	r.users[stored.ID] = &stored
	return nil
}

func (r *UserMemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.find(ctx, func(u *entity.User) bool { return u.ID == id })
}

func (r *UserMemoryRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.find(ctx, func(u *entity.User) bool { return u.Email == email })
}

func (r *UserMemoryRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.find(ctx, func(u *entity.User) bool { return u.Username != nil && *u.Username == username })
}

func (r *UserMemoryRepository) List(ctx context.Context, limit, offset int) ([]entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]entity.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(users) {
			return []entity.User{}, nil
		}
		users = users[offset:]
	}
	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

func (r *UserMemoryRepository) find(ctx context.Context, match func(*entity.User) bool) (*entity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			user := *u
			return &user, nil
		}
	}
	return nil, nil
}
