package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"novachat/internal/util"
	"novachat/pkg/auth"
	"novachat/pkg/domain"
	"novachat/pkg/store"
)

const (
	maxLoginAttempts = 5
	lockDuration     = 2 * time.Hour
	otpLength        = 6
)

// SignupInput is the registration form.
type SignupInput struct {
	Username   string
	Email      string
	Password   string
	UseCase    string
	Experience string
}

// AuthResult is returned by every operation that issues a bearer token.
type AuthResult struct {
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expiresAt"`
	Account   domain.PublicAccount `json:"account"`
}

// Signup registers an account and signs it in.
func (a *App) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := auth.NormalizeEmail(in.Email)
	useCase := domain.UseCase(strings.TrimSpace(in.UseCase))
	experience := domain.Experience(strings.TrimSpace(in.Experience))
	if username == "" || email == "" || in.Password == "" || useCase == "" || experience == "" {
		return AuthResult{}, validationError("Missing required fields")
	}

	var problems []string
	if err := auth.ValidateUsername(username); err != nil {
		problems = append(problems, err.Error())
	}
	if err := auth.ValidateEmail(email); err != nil {
		problems = append(problems, err.Error())
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		problems = append(problems, err.Error())
	}
	if !useCase.Valid() {
		problems = append(problems, "Please select a valid use case")
	}
	if !experience.Valid() {
		problems = append(problems, "Please select a valid experience level")
	}
	if len(problems) > 0 {
		return AuthResult{}, validationError(strings.Join(problems, ". "))
	}

	exists, err := a.store.AccountExists(ctx, username, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("check account: %w", err)
	}
	if exists {
		return AuthResult{}, newError(ErrConflict, "User already exists")
	}
	hash, err := auth.HashSecret(in.Password, a.passwordCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.clock()
	acct := domain.Account{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		UseCase:      useCase,
		Experience:   experience,
		Preferences:  domain.DefaultPreferences(),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return AuthResult{}, newError(ErrConflict, "username or email already exists")
		}
		return AuthResult{}, fmt.Errorf("create account: %w", err)
	}
	a.logger.InfoContext(ctx, "account created", "account_id", acct.ID, "email", maskEmail(email))
	return a.issueToken(ctx, acct)
}

// Login checks credentials and signs the account in.
// Unknown e-mail and wrong password are indistinguishable to the caller.
func (a *App) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = auth.NormalizeEmail(email)
	if email == "" || password == "" {
		return AuthResult{}, validationError("Please provide email and password")
	}
	acct, ok, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		auth.CheckPassword(password, a.dummyHash)
		return AuthResult{}, authError(msgInvalidCredentials)
	}
	now := a.clock()
	if acct.IsLocked(now) {
		return AuthResult{}, newError(ErrLocked, msgAccountLocked)
	}
	if !auth.CheckPassword(password, acct.PasswordHash) {
		if _, err := a.HandleFailedLogin(ctx, acct); err != nil {
			return AuthResult{}, err
		}
		return AuthResult{}, authError(msgInvalidCredentials)
	}
	if !acct.Active {
		return AuthResult{}, authError(msgDeactivated)
	}
	clearLoginAttempts(&acct)
	acct.LastLoginAt = &now
	if err := a.store.SaveAccount(ctx, acct); err != nil {
		return AuthResult{}, fmt.Errorf("record login: %w", err)
	}
	return a.issueToken(ctx, acct)
}

// HandleFailedLogin counts a failed password attempt and locks the account
// once the threshold is reached.
func (a *App) HandleFailedLogin(ctx context.Context, acct domain.Account) (domain.Account, error) {
	registerFailedLogin(&acct, a.clock())
	if err := a.store.SaveAccount(ctx, acct); err != nil {
		return acct, fmt.Errorf("record failed login: %w", err)
	}
	if acct.IsLocked(a.clock()) {
		a.logger.WarnContext(ctx, "account locked", "account_id", acct.ID, "until", acct.LockUntil)
	}
	return acct, nil
}

// ResetLoginAttempts zeroes the failure counter and lifts any lock.
func (a *App) ResetLoginAttempts(ctx context.Context, acct domain.Account) (domain.Account, error) {
	clearLoginAttempts(&acct)
	if err := a.store.SaveAccount(ctx, acct); err != nil {
		return acct, fmt.Errorf("reset login attempts: %w", err)
	}
	return acct, nil
}

func registerFailedLogin(acct *domain.Account, now time.Time) {
	if acct.LockUntil != nil && !acct.LockUntil.After(now) {
		acct.LockUntil = nil
		acct.LoginAttempts = 1
		return
	}
	acct.LoginAttempts++
	if acct.LoginAttempts >= maxLoginAttempts && !acct.IsLocked(now) {
		until := now.Add(lockDuration)
		acct.LockUntil = &until
	}
}

func clearLoginAttempts(acct *domain.Account) {
	acct.LoginAttempts = 0
	acct.LockUntil = nil
}

// Logout revokes the presented token until it would have expired anyway.
func (a *App) Logout(ctx context.Context, p domain.Principal) error {
	claims := store.SessionClaims{
		AccountID: p.AccountID(),
		TokenID:   p.TokenID,
		ExpiresAt: p.ExpiresAt,
	}
	if err := a.sessions.DeleteSession(ctx, claims); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Me returns the caller's public profile.
func (a *App) Me(p domain.Principal) domain.PublicAccount {
	return p.Account.Public()
}

// ForgotPassword e-mails a fresh one-time code to the account owner.
func (a *App) ForgotPassword(ctx context.Context, email string) error {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return validationError("Please provide an email address")
	}
	acct, ok, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return notFoundError("No account found with this email address")
	}
	code, err := generateNumericCode(otpLength)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := auth.HashSecret(code, min(a.passwordCost, bcrypt.DefaultCost))
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	expires := a.clock().Add(a.otpTTL)
	acct.ResetOTPHash = hash
	acct.ResetOTPExpires = &expires
	if err := a.store.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	err = a.mailer.SendOTP(ctx, OTPMail{
		To:        acct.Email,
		Username:  acct.Username,
		OTP:       code,
		ExpiresIn: a.otpTTL,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "otp mail failed", "account_id", acct.ID, "email", maskEmail(email), "err", err)
		acct.ResetOTPHash = ""
		acct.ResetOTPExpires = nil
		if clearErr := a.store.SaveAccount(ctx, acct); clearErr != nil {
			a.logger.ErrorContext(ctx, "clear undelivered otp", "account_id", acct.ID, "err", clearErr)
		}
		return &Error{Kind: ErrProvider, Message: "Failed to send OTP. Please try again.", Err: err}
	}
	a.logger.InfoContext(ctx, "otp sent", "account_id", acct.ID, "email", maskEmail(email))
	return nil
}

// VerifyOtp checks a reset code without consuming it.
func (a *App) VerifyOtp(ctx context.Context, email, otp string) error {
	email = auth.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return validationError("Please provide email and OTP")
	}
	if _, err := a.accountForOTP(ctx, email, otp); err != nil {
		return err
	}
	return nil
}

// ResetPassword sets a new password when the code is valid, clearing the
// code in the same write and revoking every earlier session.
func (a *App) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	email = auth.NormalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" || newPassword == "" {
		return validationError("Please provide email, OTP, and new password")
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return validationError(err.Error())
	}
	acct, err := a.accountForOTP(ctx, email, otp)
	if err != nil {
		if errors.Is(err, ErrInvalidOTP) {
			return newError(ErrInvalidOTP, "Invalid or expired OTP. Please request a new one.")
		}
		return err
	}
	hash, err := auth.HashSecret(newPassword, a.passwordCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := a.clock()
	acct.PasswordHash = hash
	acct.ResetOTPHash = ""
	acct.ResetOTPExpires = nil
	if err := a.store.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := a.sessions.RevokeAccountSessions(ctx, acct.ID, now); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	a.logger.InfoContext(ctx, "password reset", "account_id", acct.ID)
	return nil
}

func (a *App) accountForOTP(ctx context.Context, email, otp string) (domain.Account, error) {
	acct, ok, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return domain.Account{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !otpMatches(acct, otp, a.clock()) {
		return domain.Account{}, newError(ErrInvalidOTP, msgInvalidOTP)
	}
	return acct, nil
}

func otpMatches(acct domain.Account, otp string, now time.Time) bool {
	if acct.ResetOTPHash == "" || acct.ResetOTPExpires == nil {
		return false
	}
	if !acct.ResetOTPExpires.After(now) {
		return false
	}
	return auth.CheckPassword(otp, acct.ResetOTPHash)
}

func (a *App) issueToken(ctx context.Context, acct domain.Account) (AuthResult, error) {
	token, claims, err := a.sessions.NewSession(ctx, acct.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		Account:   acct.Public(),
	}, nil
}

func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func maskEmail(email string) string {
	local, domainPart, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	if len(local) <= 2 {
		return local[:1] + "***@" + domainPart
	}
	return local[:2] + "***@" + domainPart
}
