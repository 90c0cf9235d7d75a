package users

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]User
}

// NewMemoryRepository builds an in-memory user store for development and tests.
// It enforces username uniqueness the way the users table constraint does.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[int64]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == user.Username {
			return User{}, ErrUsernameTaken
		}
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id int64) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, id int64, changes Changes) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	if changes.PasswordHash != nil {
		user.PasswordHash = *changes.PasswordHash
	}
	if changes.Name != nil {
		user.Name = *changes.Name
	}
	if changes.Address != nil {
		user.Address = *changes.Address
	}
	if changes.Telephone != nil {
		user.Telephone = *changes.Telephone
	}
	if changes.Help != nil {
		user.Help = *changes.Help
	}
	r.users[id] = user
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *memoryRepository) ListNeedingHelp(_ context.Context) ([]HelpRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HelpRequest, 0)
	for _, user := range r.users {
		if user.Help {
			out = append(out, HelpRequest{ID: user.ID, Name: user.Name, Address: user.Address, Telephone: user.Telephone})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
