package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cretpass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || strings.Contains(hash, "s3cretpass") {
		t.Fatalf("unexpected hash %q", hash)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt cost: %v", err)
	}
	if cost != PasswordCost {
		t.Fatalf("cost = %d, want %d", cost, PasswordCost)
	}
	if !CheckPassword("s3cretpass", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cretpass", "") {
		t.Fatalf("empty stored hash must never match")
	}
}

func TestHashPasswordIsSalted(t *testing.T) {
	a, err := HashSecret("same-input", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	b, err := HashSecret("same-input", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if a == b {
		t.Fatalf("expected different salts to produce different hashes")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("password1"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("short1!"); err != ErrPasswordTooShort {
		t.Fatalf("expected short password to fail, got %v", err)
	}
	if err := ValidatePassword(strings.Repeat("a", 73)); err != ErrPasswordTooLong {
		t.Fatalf("expected long password to fail, got %v", err)
	}
}

func TestValidateUsername(t *testing.T) {
	cases := map[string]error{
		"alice":                 nil,
		"a_1":                   nil,
		"ab":                    ErrUsernameLength,
		strings.Repeat("x", 31): ErrUsernameLength,
		"bad name":              ErrUsernameFormat,
		"dash-name":             ErrUsernameFormat,
	}
	for in, want := range cases {
		if got := ValidateUsername(in); got != want {
			t.Fatalf("ValidateUsername(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	for _, ok := range []string{"a@x.com", "first.last@mail.example.org", "a-b@c-d.io"} {
		if err := ValidateEmail(ok); err != nil {
			t.Fatalf("ValidateEmail(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "no-at.com", "a@b", "a@b.toolong", "a @x.com"} {
		if err := ValidateEmail(bad); err == nil {
			t.Fatalf("ValidateEmail(%q) should fail", bad)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@X.COM "); got != "alice@x.com" {
		t.Fatalf("normalize = %q", got)
	}
}
