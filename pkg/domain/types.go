package domain

import (
	"strings"
	"time"
)

type UseCase string

const (
	UseCasePersonalAssistant  UseCase = "Personal Assistant"
	UseCaseBusinessAutomation UseCase = "Business Automation"
	UseCaseCustomerSupport    UseCase = "Customer Support"
	UseCaseContentCreation    UseCase = "Content Creation"
	UseCaseResearchLearning   UseCase = "Research & Learning"
	UseCaseCreativeWriting    UseCase = "Creative Writing"
	UseCaseOther              UseCase = "Other"
)

// UseCases lists the accepted signup use cases in display order.
var UseCases = []UseCase{
	UseCasePersonalAssistant,
	UseCaseBusinessAutomation,
	UseCaseCustomerSupport,
	UseCaseContentCreation,
	UseCaseResearchLearning,
	UseCaseCreativeWriting,
	UseCaseOther,
}

func (u UseCase) Valid() bool {
	for _, c := range UseCases {
		if u == c {
			return true
		}
	}
	return false
}

type Experience string

const (
	ExperienceNewToAI     Experience = "New to AI"
	ExperienceSome        Experience = "Some Experience"
	ExperienceAdvanced    Experience = "Advanced User"
	ExperienceAIDeveloper Experience = "AI Developer"
)

var Experiences = []Experience{
	ExperienceNewToAI,
	ExperienceSome,
	ExperienceAdvanced,
	ExperienceAIDeveloper,
}

func (e Experience) Valid() bool {
	for _, c := range Experiences {
		if e == c {
			return true
		}
	}
	return false
}

// Preferences are chat UI settings stored with the account.
type Preferences struct {
	Theme             string `json:"theme"`
	Language          string `json:"language"`
	ConversationStyle string `json:"conversationStyle"`
	ResponseLength    string `json:"responseLength"`
}

// DefaultPreferences is what a fresh signup gets.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:             "dark",
		Language:          "en",
		ConversationStyle: "casual",
		ResponseLength:    "medium",
	}
}

// Account is a registered user. Secrets never leave the process: use Public
// for anything that is serialized to a client.
type Account struct {
	ID              string
	Username        string
	Email           string
	PasswordHash    string
	UseCase         UseCase
	Experience      Experience
	Preferences     Preferences
	Active          bool
	EmailVerified   bool
	LoginAttempts   int
	LockUntil       *time.Time
	ResetOTPHash    string
	ResetOTPExpires *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLocked is true iff a lock expiry exists and is after now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

// PublicAccount is the client-facing projection of an Account.
type PublicAccount struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	UseCase       UseCase     `json:"useCase"`
	Experience    Experience  `json:"experience"`
	Preferences   Preferences `json:"preferences"`
	EmailVerified bool        `json:"isEmailVerified"`
	LastLoginAt   *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		UseCase:       a.UseCase,
		Experience:    a.Experience,
		Preferences:   a.Preferences,
		EmailVerified: a.EmailVerified,
		LastLoginAt:   a.LastLoginAt,
		CreatedAt:     a.CreatedAt,
	}
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	DefaultConversationTitle = "New Chat"
	MaxTitleLength           = 100
)

type Conversation struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary is a list entry without the message bodies.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// NormalizeTitle trims and caps a title, substituting the default for blanks.
func NormalizeTitle(title string) string {
	r := []rune(strings.TrimSpace(title))
	if len(r) == 0 {
		return DefaultConversationTitle
	}
	if len(r) > MaxTitleLength {
		r = r[:MaxTitleLength]
	}
	return string(r)
}

// Principal is the authenticated caller, resolved once per request.
type Principal struct {
	Account   Account
	TokenID   string
	ExpiresAt time.Time
}

func (p Principal) AccountID() string { return p.Account.ID }
