package users

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Store. Records are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	byID    map[int64]User
	byEmail map[string]int64
	nextID  int64
}

// NewMemory returns an empty store. IDs start at 1.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[int64]User),
		byEmail: make(map[string]int64),
		nextID:  1,
	}
}

func (m *Memory) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) FindByID(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) Create(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[u.Email]; exists {
		return User{}, ErrExists
	}

	u.ID = m.nextID
	m.nextID++
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return u, nil
}

// Update replaces the stored record with the same ID. Changing the email to
// one held by another user returns ErrExists.
func (m *Memory) Update(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.byID[u.ID]
	if !ok {
		return ErrNotFound
	}
	if u.Email != old.Email {
		if _, taken := m.byEmail[u.Email]; taken {
			return ErrExists
		}
		delete(m.byEmail, old.Email)
		m.byEmail[u.Email] = u.ID
	}
	m.byID[u.ID] = u
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byEmail, u.Email)
	return nil
}

func (m *Memory) List(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b User) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

var _ Store = (*Memory)(nil)
