package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"novachat/pkg/domain"
)

const migrateLockID int64 = 61826182

// GormStore implements Store on PostgreSQL through GORM.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AccountModel{}, &ConversationModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateAccount(ctx context.Context, a domain.Account) error {
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	model, err := accountToModel(a)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// SaveAccount writes every column of the row in one UPDATE.
func (s *GormStore) SaveAccount(ctx context.Context, a domain.Account) error {
	a.UpdatedAt = s.now()
	model, err := accountToModel(a)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", a.ID).
		Select("*").Omit("id", "created_at").
		Updates(&model)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	return s.findAccount(ctx, "id = ?", id)
}

func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	return s.findAccount(ctx, "email = ?", email)
}

func (s *GormStore) findAccount(ctx context.Context, query string, arg string) (domain.Account, bool, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("fetch account: %w", err)
	}
	a, err := accountFromModel(model)
	if err != nil {
		return domain.Account{}, false, err
	}
	return a, true, nil
}

func (s *GormStore) AccountExists(ctx context.Context, username, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("username = ? OR email = ?", username, email).
		Limit(1).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return count > 0, nil
}

// SaveConversation updates the row owned by c.AccountID or inserts a new one.
func (s *GormStore) SaveConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	model, err := conversationToModel(c)
	if err != nil {
		return domain.Conversation{}, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).
			Where("id = ? AND account_id = ?", c.ID, c.AccountID).
			Updates(map[string]any{
				"title":         model.Title,
				"messages":      model.Messages,
				"message_count": model.MessageCount,
				"updated_at":    model.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Conversation{}, ErrDuplicate
		}
		return domain.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	return c, nil
}

func (s *GormStore) GetConversation(ctx context.Context, accountID, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("fetch conversation: %w", err)
	}
	c, err := conversationFromModel(model)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return c, true, nil
}

func (s *GormStore) ListConversations(ctx context.Context, accountID string, limit int) ([]domain.ConversationSummary, error) {
	var models []ConversationModel
	q := s.db.WithContext(ctx).
		Select("id", "title", "message_count", "created_at", "updated_at").
		Where("account_id = ?", accountID).
		Order("updated_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(models))
	for _, m := range models {
		out = append(out, domain.ConversationSummary{
			ID:           m.ID,
			Title:        m.Title,
			MessageCount: m.MessageCount,
			CreatedAt:    m.CreatedAt,
			UpdatedAt:    m.UpdatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) DeleteConversation(ctx context.Context, accountID, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).Delete(&ConversationModel{})
	if res.Error != nil {
		return false, fmt.Errorf("delete conversation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func accountToModel(a domain.Account) (AccountModel, error) {
	prefs, err := json.Marshal(a.Preferences)
	if err != nil {
		return AccountModel{}, fmt.Errorf("encode preferences: %w", err)
	}
	return AccountModel{
		ID:              a.ID,
		Username:        a.Username,
		Email:           a.Email,
		PasswordHash:    a.PasswordHash,
		UseCase:         string(a.UseCase),
		Experience:      string(a.Experience),
		Preferences:     prefs,
		Active:          a.Active,
		EmailVerified:   a.EmailVerified,
		LoginAttempts:   a.LoginAttempts,
		LockUntil:       a.LockUntil,
		ResetOTPHash:    a.ResetOTPHash,
		ResetOTPExpires: a.ResetOTPExpires,
		LastLoginAt:     a.LastLoginAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}, nil
}

func accountFromModel(m AccountModel) (domain.Account, error) {
	prefs := domain.DefaultPreferences()
	if len(m.Preferences) > 0 {
		if err := json.Unmarshal(m.Preferences, &prefs); err != nil {
			return domain.Account{}, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return domain.Account{
		ID:              m.ID,
		Username:        m.Username,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		UseCase:         domain.UseCase(m.UseCase),
		Experience:      domain.Experience(m.Experience),
		Preferences:     prefs,
		Active:          m.Active,
		EmailVerified:   m.EmailVerified,
		LoginAttempts:   m.LoginAttempts,
		LockUntil:       m.LockUntil,
		ResetOTPHash:    m.ResetOTPHash,
		ResetOTPExpires: m.ResetOTPExpires,
		LastLoginAt:     m.LastLoginAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func conversationToModel(c domain.Conversation) (ConversationModel, error) {
	records := make([]messageRecord, 0, len(c.Messages))
	for _, m := range c.Messages {
		records = append(records, messageRecord{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Text:      m.Text,
			ImageURL:  m.ImageURL,
			Timestamp: m.Timestamp,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return ConversationModel{}, fmt.Errorf("encode messages: %w", err)
	}
	return ConversationModel{
		ID:           c.ID,
		AccountID:    c.AccountID,
		Title:        c.Title,
		Messages:     raw,
		MessageCount: len(records),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}, nil
}

func conversationFromModel(m ConversationModel) (domain.Conversation, error) {
	var records []messageRecord
	if len(m.Messages) > 0 {
		if err := json.Unmarshal(m.Messages, &records); err != nil {
			return domain.Conversation{}, fmt.Errorf("decode messages: %w", err)
		}
	}
	msgs := make([]domain.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, domain.Message{
			ID:        r.ID,
			Sender:    domain.Sender(r.Sender),
			Text:      r.Text,
			ImageURL:  r.ImageURL,
			Timestamp: r.Timestamp,
		})
	}
	return domain.Conversation{
		ID:        m.ID,
		AccountID: m.AccountID,
		Title:     m.Title,
		Messages:  msgs,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
