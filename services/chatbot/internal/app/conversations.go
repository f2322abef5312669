package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"novachat/internal/util"
	"novachat/pkg/domain"
	"novachat/pkg/store"
)

const (
	maxListedConversations = 50
	titleRunes             = 50
)

// MessageResult is the latest exchange returned to the client.
type MessageResult struct {
	ConversationID string `json:"conversationId"`
	BotText        string `json:"botText"`
	ImageURL       string `json:"imageUrl,omitempty"`
	Title          string `json:"title"`
}

// HandleMessage answers text and stores the exchange, either appended to
// conversationID or in a new conversation when conversationID is empty.
// Concurrent appends to one conversation are last-writer-wins.
func (a *App) HandleMessage(ctx context.Context, p domain.Principal, text, conversationID string) (MessageResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return MessageResult{}, validationError("Message text cannot be empty")
	}
	conversationID = strings.TrimSpace(conversationID)

	var conv domain.Conversation
	if conversationID != "" {
		existing, ok, err := a.store.GetConversation(ctx, p.AccountID(), conversationID)
		if err != nil {
			return MessageResult{}, fmt.Errorf("load conversation: %w", err)
		}
		if !ok {
			return MessageResult{}, notFoundError(msgConversationGone)
		}
		conv = existing
	}

	intent := Classify(text)
	a.metrics.Message(string(intent.Kind))
	reply := a.Generate(ctx, p.AccountID(), intent, text)

	now := a.clock()
	userMsg := domain.Message{ID: util.NewID(), Sender: domain.SenderUser, Text: text, Timestamp: now}
	botMsg := domain.Message{ID: util.NewID(), Sender: domain.SenderBot, Text: reply.Text, ImageURL: reply.ImageURL, Timestamp: now}

	if conversationID == "" {
		conv = domain.Conversation{
			ID:        util.NewID(),
			AccountID: p.AccountID(),
			Title:     TitleFromText(text),
		}
	} else if needsTitle(conv) {
		conv.Title = TitleFromText(text)
	}
	conv.Messages = append(conv.Messages, userMsg, botMsg)

	saved, err := a.store.SaveConversation(ctx, conv)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return MessageResult{}, notFoundError(msgConversationGone)
		}
		return MessageResult{}, fmt.Errorf("save conversation: %w", err)
	}
	return MessageResult{
		ConversationID: saved.ID,
		BotText:        reply.Text,
		ImageURL:       reply.ImageURL,
		Title:          saved.Title,
	}, nil
}

// needsTitle reports whether conv was created empty and still carries the
// placeholder title.
func needsTitle(conv domain.Conversation) bool {
	title := strings.TrimSpace(conv.Title)
	if title != "" && title != domain.DefaultConversationTitle {
		return false
	}
	for _, m := range conv.Messages {
		if m.Sender == domain.SenderUser {
			return false
		}
	}
	return true
}

// TitleFromText derives a conversation title from its first message:
// the first 50 characters, with "..." when cut.
func TitleFromText(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) == 0 {
		return domain.DefaultConversationTitle
	}
	if len(r) <= titleRunes {
		return string(r)
	}
	return string(r[:titleRunes]) + "..."
}

// ListConversations returns the caller's most recently updated conversations.
func (a *App) ListConversations(ctx context.Context, p domain.Principal) ([]domain.ConversationSummary, error) {
	items, err := a.store.ListConversations(ctx, p.AccountID(), maxListedConversations)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return items, nil
}

func (a *App) GetConversation(ctx context.Context, p domain.Principal, id string) (domain.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Conversation{}, notFoundError(msgConversationGone)
	}
	conv, ok, err := a.store.GetConversation(ctx, p.AccountID(), id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, notFoundError(msgConversationGone)
	}
	return conv, nil
}

// CreateConversation starts an empty conversation.
func (a *App) CreateConversation(ctx context.Context, p domain.Principal, title string) (domain.Conversation, error) {
	conv := domain.Conversation{
		ID:        util.NewID(),
		AccountID: p.AccountID(),
		Title:     domain.NormalizeTitle(title),
		Messages:  []domain.Message{},
	}
	saved, err := a.store.SaveConversation(ctx, conv)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return saved, nil
}

func (a *App) DeleteConversation(ctx context.Context, p domain.Principal, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return notFoundError(msgConversationGone)
	}
	deleted, err := a.store.DeleteConversation(ctx, p.AccountID(), id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if !deleted {
		return notFoundError(msgConversationGone)
	}
	return nil
}
