package store

import (
	"context"
	"errors"

	"novachat/pkg/domain"
)

var (
	// ErrDuplicate is returned when a unique key (username, email, id) is already taken.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrNotFound is returned by updates that target a missing record.
	ErrNotFound = errors.New("store: not found")
)

// Store persists accounts and their conversations.
// Lookups return (zero, false, nil) when nothing matches.
type Store interface {
	// accounts
	CreateAccount(ctx context.Context, a domain.Account) error
	SaveAccount(ctx context.Context, a domain.Account) error
	GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error)
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error)
	AccountExists(ctx context.Context, username, email string) (bool, error)

	// conversations, always scoped to the owning account
	SaveConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error)
	GetConversation(ctx context.Context, accountID, id string) (domain.Conversation, bool, error)
	ListConversations(ctx context.Context, accountID string, limit int) ([]domain.ConversationSummary, error)
	DeleteConversation(ctx context.Context, accountID, id string) (bool, error)

	Close(ctx context.Context) error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
