package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"novachat/pkg/domain"
)

func TestHandleMessageCreatesAndAppends(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	p := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)

	long := strings.Repeat("conversation title ", 5)
	first, err := d.app.HandleMessage(ctx, p, long, "")
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if first.ConversationID == "" || first.BotText != "Hello from the model" {
		t.Fatalf("unexpected result: %+v", first)
	}
	if !strings.HasSuffix(first.Title, "...") || utf8.RuneCountInString(first.Title) != titleRunes+3 {
		t.Fatalf("title not truncated: %q", first.Title)
	}

	second, err := d.app.HandleMessage(ctx, p, "and another thing", first.ConversationID)
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if second.ConversationID != first.ConversationID || second.Title != first.Title {
		t.Fatalf("expected append to same conversation: %+v", second)
	}

	conv, err := d.app.GetConversation(ctx, p, first.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(conv.Messages))
	}
	wantSenders := []domain.Sender{domain.SenderUser, domain.SenderBot, domain.SenderUser, domain.SenderBot}
	for i, m := range conv.Messages {
		if m.Sender != wantSenders[i] || m.ID == "" {
			t.Fatalf("message %d = %+v", i, m)
		}
	}
	if conv.Messages[2].Text != "and another thing" {
		t.Fatalf("user text not stored: %q", conv.Messages[2].Text)
	}
}

func TestHandleMessageStoresImage(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	p := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)

	res, err := d.app.HandleMessage(ctx, p, "draw a lighthouse", "")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if res.ImageURL == "" || res.BotText != imageSuccessText {
		t.Fatalf("expected image reply: %+v", res)
	}
	conv, err := d.app.GetConversation(ctx, p, res.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Messages[1].ImageURL != res.ImageURL {
		t.Fatalf("bot message should keep the image url")
	}
}

func TestHandleMessageRejectsBadInput(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	alice := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)
	bob := d.principal(t, d.signup(t, "bob", "bob@example.com", "password1").Token)

	if _, err := d.app.HandleMessage(ctx, alice, "   ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	res, err := d.app.HandleMessage(ctx, alice, "hello", "")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	calls := d.text.calls
	if _, err := d.app.HandleMessage(ctx, bob, "hijack", res.ConversationID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for foreign conversation, got %v", err)
	}
	if _, err := d.app.HandleMessage(ctx, alice, "hello", "missing-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown conversation, got %v", err)
	}
	if d.text.calls != calls {
		t.Fatalf("provider must not be called for rejected conversations")
	}
	conv, err := d.app.GetConversation(ctx, alice, res.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("foreign append leaked into conversation: %d messages", len(conv.Messages))
	}
}

func TestListConversations(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	alice := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)
	bob := d.principal(t, d.signup(t, "bob", "bob@example.com", "password1").Token)

	older, err := d.app.HandleMessage(ctx, alice, "first topic", "")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if _, err := d.app.HandleMessage(ctx, alice, "second topic", ""); err != nil {
		t.Fatalf("message: %v", err)
	}
	if _, err := d.app.HandleMessage(ctx, alice, "back to the first", older.ConversationID); err != nil {
		t.Fatalf("message: %v", err)
	}

	items, err := d.app.ListConversations(ctx, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(items))
	}
	if items[0].ID != older.ConversationID || items[0].MessageCount != 4 {
		t.Fatalf("most recently updated should come first: %+v", items[0])
	}

	others, err := d.app.ListConversations(ctx, bob)
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("bob should see no conversations, got %d", len(others))
	}
}

func TestListConversationsCapped(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	p := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)

	for i := 0; i < maxListedConversations+5; i++ {
		if _, err := d.app.CreateConversation(ctx, p, ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	items, err := d.app.ListConversations(ctx, p)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != maxListedConversations {
		t.Fatalf("expected %d conversations, got %d", maxListedConversations, len(items))
	}
}

func TestCreateAndDeleteConversation(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	alice := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)
	bob := d.principal(t, d.signup(t, "bob", "bob@example.com", "password1").Token)

	conv, err := d.app.CreateConversation(ctx, alice, "   ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != domain.DefaultConversationTitle || conv.Messages == nil || len(conv.Messages) != 0 {
		t.Fatalf("unexpected new conversation: %+v", conv)
	}
	named, err := d.app.CreateConversation(ctx, alice, "  Trip ideas ")
	if err != nil {
		t.Fatalf("create named: %v", err)
	}
	if named.Title != "Trip ideas" {
		t.Fatalf("title = %q", named.Title)
	}

	if err := d.app.DeleteConversation(ctx, bob, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found deleting foreign conversation, got %v", err)
	}
	if _, err := d.app.GetConversation(ctx, bob, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found reading foreign conversation, got %v", err)
	}
	if err := d.app.DeleteConversation(ctx, alice, conv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := d.app.DeleteConversation(ctx, alice, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := d.app.GetConversation(ctx, alice, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted conversation still readable: %v", err)
	}
}

func TestFirstMessageTitlesEmptyConversation(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	p := d.principal(t, d.signup(t, "alice", "alice@example.com", "password1").Token)

	conv, err := d.app.CreateConversation(ctx, p, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := d.app.HandleMessage(ctx, p, "plan a trip to Rome", conv.ID)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if res.Title != "plan a trip to Rome" {
		t.Fatalf("title after first message = %q", res.Title)
	}
	res, err = d.app.HandleMessage(ctx, p, "and then Florence", conv.ID)
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if res.Title != "plan a trip to Rome" {
		t.Fatalf("later messages must keep the title, got %q", res.Title)
	}

	named, err := d.app.CreateConversation(ctx, p, "Trip ideas")
	if err != nil {
		t.Fatalf("create named: %v", err)
	}
	res, err = d.app.HandleMessage(ctx, p, "hello", named.ID)
	if err != nil {
		t.Fatalf("message into named: %v", err)
	}
	if res.Title != "Trip ideas" {
		t.Fatalf("explicit title overwritten: %q", res.Title)
	}
}

func TestTitleFromText(t *testing.T) {
	cases := map[string]string{
		"hi":                    "hi",
		"   ":                   domain.DefaultConversationTitle,
		strings.Repeat("é", 50): strings.Repeat("é", 50),
		strings.Repeat("x", 51): strings.Repeat("x", 50) + "...",
	}
	for in, want := range cases {
		if got := TitleFromText(in); got != want {
			t.Fatalf("TitleFromText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChatScenario(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()

	d.signup(t, "alice", "a@x.com", "password1")
	auth, err := d.app.Login(ctx, "a@x.com", "password1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	p := d.principal(t, auth.Token)

	res, err := d.app.HandleMessage(ctx, p, "hi", "")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if res.BotText == "" || res.ConversationID == "" || res.Title != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	items, err := d.app.ListConversations(ctx, p)
	if err != nil || len(items) != 1 || items[0].MessageCount != 2 {
		t.Fatalf("list after first message: %+v, %v", items, err)
	}
}
