package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"novachat/pkg/domain"
)

const (
	accountsCollection      = "accounts"
	conversationsCollection = "conversations"
)

// MongoStore keeps one document per account and one per conversation,
// with messages embedded in the conversation document.
type MongoStore struct {
	client        *mongo.Client
	accounts      *mongo.Collection
	conversations *mongo.Collection
	now           func() time.Time
}

// NewMongoStore connects, pings, and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	database = strings.TrimSpace(database)
	if database == "" {
		database = "novachat"
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetAppName("novachat"))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		accounts:      db.Collection(accountsCollection),
		conversations: db.Collection(conversationsCollection),
		now:           func() time.Time { return time.Now().UTC() },
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_username")},
	}); err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "updated_at", Value: -1}},
		Options: options.Index().SetName("account_recent"),
	}); err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateAccount(ctx context.Context, a domain.Account) error {
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if _, err := s.accounts.InsertOne(ctx, accountToDocument(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// SaveAccount replaces the whole account document in one write.
func (s *MongoStore) SaveAccount(ctx context.Context, a domain.Account) error {
	a.UpdatedAt = s.now()
	res, err := s.accounts.ReplaceOne(ctx, bson.D{{Key: "_id", Value: a.ID}}, accountToDocument(a))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("replace account: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	return s.findAccount(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	return s.findAccount(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *MongoStore) findAccount(ctx context.Context, filter bson.D) (domain.Account, bool, error) {
	var doc accountDocument
	if err := s.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, fmt.Errorf("find account: %w", err)
	}
	return accountFromDocument(doc), true, nil
}

func (s *MongoStore) AccountExists(ctx context.Context, username, email string) (bool, error) {
	n, err := s.accounts.CountDocuments(ctx, bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "email", Value: email}},
		bson.D{{Key: "username", Value: username}},
	}}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return n > 0, nil
}

// SaveConversation upserts on (id, account). An id owned by another account
// collides on _id and surfaces as ErrDuplicate.
func (s *MongoStore) SaveConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	doc := conversationToDocument(c)
	_, err := s.conversations.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: c.ID}, {Key: "account_id", Value: c.AccountID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conversation{}, ErrDuplicate
		}
		return domain.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	return conversationFromDocument(doc), nil
}

func (s *MongoStore) GetConversation(ctx context.Context, accountID, id string) (domain.Conversation, bool, error) {
	var doc conversationDocument
	err := s.conversations.FindOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "account_id", Value: accountID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, fmt.Errorf("find conversation: %w", err)
	}
	return conversationFromDocument(doc), true, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, accountID string, limit int) ([]domain.ConversationSummary, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetProjection(bson.D{{Key: "messages", Value: 0}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.conversations.Find(ctx, bson.D{{Key: "account_id", Value: accountID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.ConversationSummary{
			ID:           d.ID,
			Title:        d.Title,
			MessageCount: d.MessageCount,
			CreatedAt:    d.CreatedAt,
			UpdatedAt:    d.UpdatedAt,
		})
	}
	return out, nil
}

func (s *MongoStore) DeleteConversation(ctx context.Context, accountID, id string) (bool, error) {
	res, err := s.conversations.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "account_id", Value: accountID}})
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return res.DeletedCount > 0, nil
}

type accountDocument struct {
	ID              string              `bson:"_id"`
	Username        string              `bson:"username"`
	Email           string              `bson:"email"`
	PasswordHash    string              `bson:"password_hash"`
	UseCase         string              `bson:"use_case"`
	Experience      string              `bson:"experience"`
	Preferences     preferencesDocument `bson:"preferences"`
	Active          bool                `bson:"is_active"`
	EmailVerified   bool                `bson:"is_email_verified"`
	LoginAttempts   int                 `bson:"login_attempts"`
	LockUntil       *time.Time          `bson:"lock_until,omitempty"`
	ResetOTPHash    string              `bson:"reset_otp,omitempty"`
	ResetOTPExpires *time.Time          `bson:"reset_otp_expires,omitempty"`
	LastLoginAt     *time.Time          `bson:"last_login,omitempty"`
	CreatedAt       time.Time           `bson:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at"`
}

type preferencesDocument struct {
	Theme             string `bson:"theme"`
	Language          string `bson:"language"`
	ConversationStyle string `bson:"conversation_style"`
	ResponseLength    string `bson:"response_length"`
}

type messageDocument struct {
	ID        string    `bson:"id"`
	Sender    string    `bson:"sender"`
	Text      string    `bson:"text"`
	ImageURL  string    `bson:"image_url,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
}

type conversationDocument struct {
	ID           string            `bson:"_id"`
	AccountID    string            `bson:"account_id"`
	Title        string            `bson:"title"`
	Messages     []messageDocument `bson:"messages,omitempty"`
	MessageCount int               `bson:"message_count"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

// BSON datetimes carry millisecond precision; truncate up front so what we
// return from a save equals what a later read yields.
func msTime(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func msTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := msTime(*t)
	return &v
}

func accountToDocument(a domain.Account) accountDocument {
	return accountDocument{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		UseCase:      string(a.UseCase),
		Experience:   string(a.Experience),
		Preferences: preferencesDocument{
			Theme:             a.Preferences.Theme,
			Language:          a.Preferences.Language,
			ConversationStyle: a.Preferences.ConversationStyle,
			ResponseLength:    a.Preferences.ResponseLength,
		},
		Active:          a.Active,
		EmailVerified:   a.EmailVerified,
		LoginAttempts:   a.LoginAttempts,
		LockUntil:       msTimePtr(a.LockUntil),
		ResetOTPHash:    a.ResetOTPHash,
		ResetOTPExpires: msTimePtr(a.ResetOTPExpires),
		LastLoginAt:     msTimePtr(a.LastLoginAt),
		CreatedAt:       msTime(a.CreatedAt),
		UpdatedAt:       msTime(a.UpdatedAt),
	}
}

func accountFromDocument(d accountDocument) domain.Account {
	return domain.Account{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		UseCase:      domain.UseCase(d.UseCase),
		Experience:   domain.Experience(d.Experience),
		Preferences: domain.Preferences{
			Theme:             d.Preferences.Theme,
			Language:          d.Preferences.Language,
			ConversationStyle: d.Preferences.ConversationStyle,
			ResponseLength:    d.Preferences.ResponseLength,
		},
		Active:          d.Active,
		EmailVerified:   d.EmailVerified,
		LoginAttempts:   d.LoginAttempts,
		LockUntil:       d.LockUntil,
		ResetOTPHash:    d.ResetOTPHash,
		ResetOTPExpires: d.ResetOTPExpires,
		LastLoginAt:     d.LastLoginAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func conversationToDocument(c domain.Conversation) conversationDocument {
	msgs := make([]messageDocument, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, messageDocument{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Text:      m.Text,
			ImageURL:  m.ImageURL,
			Timestamp: msTime(m.Timestamp),
		})
	}
	return conversationDocument{
		ID:           c.ID,
		AccountID:    c.AccountID,
		Title:        c.Title,
		Messages:     msgs,
		MessageCount: len(msgs),
		CreatedAt:    msTime(c.CreatedAt),
		UpdatedAt:    msTime(c.UpdatedAt),
	}
}

func conversationFromDocument(d conversationDocument) domain.Conversation {
	msgs := make([]domain.Message, 0, len(d.Messages))
	for _, m := range d.Messages {
		msgs = append(msgs, domain.Message{
			ID:        m.ID,
			Sender:    domain.Sender(m.Sender),
			Text:      m.Text,
			ImageURL:  m.ImageURL,
			Timestamp: m.Timestamp,
		})
	}
	return domain.Conversation{
		ID:        d.ID,
		AccountID: d.AccountID,
		Title:     d.Title,
		Messages:  msgs,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
