package mailer

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"novachat/services/chatbot/internal/app"
)

func TestRenderOTP(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	htmlBody, textBody, err := RenderOTP(app.OTPMail{
		To:        "alice@example.com",
		Username:  "<alice>",
		OTP:       "042917",
		ExpiresIn: 10 * time.Minute,
	}, now)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(htmlBody, "042917") || !strings.Contains(htmlBody, "&lt;alice&gt;") {
		t.Fatalf("html body missing escaped fields")
	}
	if strings.Contains(htmlBody, "<alice>") {
		t.Fatalf("username must be escaped in html")
	}
	for _, want := range []string{
		"Password Reset Request",
		"Hi <alice>,",
		"042917",
		"This OTP is valid for 10 minutes.",
		"© 2026 Nova AI. All rights reserved.",
	} {
		if !strings.Contains(textBody, want) {
			t.Fatalf("text body missing %q:\n%s", want, textBody)
		}
	}
	if strings.Contains(textBody, "<td") || strings.Contains(textBody, "viewport") {
		t.Fatalf("text body leaked markup:\n%s", textBody)
	}
}

func TestRenderOTPDefaultsUsername(t *testing.T) {
	_, textBody, err := RenderOTP(app.OTPMail{OTP: "123456"}, time.Now())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(textBody, "Hi User,") {
		t.Fatalf("expected fallback greeting:\n%s", textBody)
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                "10 minutes",
		time.Minute:      "1 minute",
		15 * time.Minute: "15 minutes",
		2 * time.Hour:    "2 hours",
		45 * time.Second: "45 seconds",
	}
	for in, want := range cases {
		if got := humanDuration(in); got != want {
			t.Fatalf("humanDuration(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestNewSMTPMailerValidates(t *testing.T) {
	if _, err := NewSMTPMailer(Config{Host: "smtp.example.com"}, nil); err == nil {
		t.Fatalf("expected error without credentials")
	}
	m, err := NewSMTPMailer(Config{Host: "smtp.example.com", Username: `"bot@example.com"`, Password: "secret"}, nil)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	if m.cfg.Port != 465 || m.cfg.From != "bot@example.com" {
		t.Fatalf("unexpected defaults: %+v", m.cfg)
	}
}

func TestBuildMessage(t *testing.T) {
	m, err := NewSMTPMailer(Config{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bot@example.com",
		Password: "secret",
		From:     "Nova AI <noreply@novaai.com>",
	}, nil)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	msg, err := m.buildMessage(app.OTPMail{To: "alice@example.com", Username: "alice", OTP: "123456", ExpiresIn: 10 * time.Minute})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"alice@example.com", "noreply@novaai.com", "multipart/alternative", "text/html"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("raw message missing %q", want)
		}
	}
	if _, err := m.buildMessage(app.OTPMail{To: "not an address", OTP: "1"}); err == nil {
		t.Fatalf("expected invalid recipient error")
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	err := LogMailer{Logger: logger}.SendOTP(context.Background(), app.OTPMail{To: "alice@example.com", OTP: "654321", ExpiresIn: time.Minute})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "654321") || !strings.Contains(buf.String(), "alice@example.com") {
		t.Fatalf("log missing otp mail fields: %s", buf.String())
	}
}
