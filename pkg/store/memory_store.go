package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"novachat/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs
// without a database; data is gone on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account // id -> account
	emails   map[string]string         // email -> id
	names    map[string]string         // username -> id
	convs    map[string]memoryConversation
	seq      uint64
	now      func() time.Time
}

type memoryConversation struct {
	conv domain.Conversation
	seq  uint64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		emails:   make(map[string]string),
		names:    make(map[string]string),
		convs:    make(map[string]memoryConversation),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.emails[a.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := m.names[a.Username]; ok {
		return ErrDuplicate
	}
	now := m.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.accounts[a.ID] = cloneAccount(a)
	m.emails[a.Email] = a.ID
	m.names[a.Username] = a.ID
	return nil
}

func (m *MemoryStore) SaveAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if id, taken := m.emails[a.Email]; taken && id != a.ID {
		return ErrDuplicate
	}
	if id, taken := m.names[a.Username]; taken && id != a.ID {
		return ErrDuplicate
	}
	delete(m.emails, prev.Email)
	delete(m.names, prev.Username)
	a.UpdatedAt = m.now()
	m.accounts[a.ID] = cloneAccount(a)
	m.emails[a.Email] = a.ID
	m.names[a.Username] = a.ID
	return nil
}

func (m *MemoryStore) GetAccountByID(_ context.Context, id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, false, nil
	}
	return cloneAccount(a), true, nil
}

func (m *MemoryStore) GetAccountByEmail(_ context.Context, email string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.Account{}, false, nil
	}
	return cloneAccount(m.accounts[id]), true, nil
}

func (m *MemoryStore) AccountExists(_ context.Context, username, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, byName := m.names[username]
	_, byEmail := m.emails[email]
	return byName || byEmail, nil
}

// SaveConversation inserts or replaces c and stamps UpdatedAt.
func (m *MemoryStore) SaveConversation(_ context.Context, c domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.convs[c.ID]; ok && prev.conv.AccountID != c.AccountID {
		return domain.Conversation{}, ErrDuplicate
	}
	now := m.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.seq++
	m.convs[c.ID] = memoryConversation{conv: cloneConversation(c), seq: m.seq}
	return cloneConversation(c), nil
}

func (m *MemoryStore) GetConversation(_ context.Context, accountID, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.convs[id]
	if !ok || entry.conv.AccountID != accountID {
		return domain.Conversation{}, false, nil
	}
	return cloneConversation(entry.conv), true, nil
}

// ListConversations returns the account's conversations, most recently updated first.
func (m *MemoryStore) ListConversations(_ context.Context, accountID string, limit int) ([]domain.ConversationSummary, error) {
	m.mu.RLock()
	entries := make([]memoryConversation, 0)
	for _, e := range m.convs {
		if e.conv.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.conv.UpdatedAt.Equal(b.conv.UpdatedAt) {
			return a.conv.UpdatedAt.After(b.conv.UpdatedAt)
		}
		return a.seq > b.seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.ConversationSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.conv.Summary())
	}
	return out, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, accountID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.convs[id]
	if !ok || entry.conv.AccountID != accountID {
		return false, nil
	}
	delete(m.convs, id)
	return true, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }

func cloneConversation(c domain.Conversation) domain.Conversation {
	c.Messages = slices.Clone(c.Messages)
	return c
}

func cloneAccount(a domain.Account) domain.Account {
	a.LockUntil = cloneTime(a.LockUntil)
	a.ResetOTPExpires = cloneTime(a.ResetOTPExpires)
	a.LastLoginAt = cloneTime(a.LastLoginAt)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
