// Package mailer delivers password reset codes over SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"novachat/services/chatbot/internal/app"
)

const otpSubject = "🔐 Nova AI - Password Reset OTP"

// Config holds SMTP delivery settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer sends OTP mails through an authenticated SMTP relay.
// Port 465 uses implicit TLS, any other port requires STARTTLS.
type SMTPMailer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPMailer validates cfg without dialing; connections are opened per message.
func NewSMTPMailer(cfg Config, logger *slog.Logger) (*SMTPMailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.Trim(strings.TrimSpace(cfg.Username), `"`)
	cfg.Password = strings.Trim(strings.TrimSpace(cfg.Password), `"`)
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("smtp host and credentials are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{cfg: cfg, logger: logger, now: time.Now}, nil
}

func (m *SMTPMailer) SendOTP(ctx context.Context, in app.OTPMail) error {
	msg, err := m.buildMessage(in)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send otp mail: %w", err)
	}
	m.logger.InfoContext(ctx, "otp mail sent", "to", in.To)
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL(), mail.WithPort(m.cfg.Port))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory), mail.WithPort(m.cfg.Port))
	}
	return opts
}

func (m *SMTPMailer) buildMessage(in app.OTPMail) (*mail.Msg, error) {
	htmlBody, textBody, err := RenderOTP(in, m.now())
	if err != nil {
		return nil, err
	}
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(in.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(otpSubject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

// LogMailer writes OTP mails to the log instead of sending them.
// Used when no SMTP relay is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (l LogMailer) SendOTP(ctx context.Context, in app.OTPMail) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "smtp not configured, otp mail not delivered",
		"to", in.To,
		"otp", in.OTP,
		"expires_in", in.ExpiresIn.String(),
	)
	return nil
}

type otpView struct {
	Username string
	OTP      string
	Validity string
	Year     int
}

var otpTemplate = template.Must(template.New("otp").Parse(otpHTML))

// RenderOTP returns the HTML body and its plain-text alternative.
func RenderOTP(in app.OTPMail, now time.Time) (string, string, error) {
	view := otpView{
		Username: strings.TrimSpace(in.Username),
		OTP:      in.OTP,
		Validity: humanDuration(in.ExpiresIn),
		Year:     now.Year(),
	}
	if view.Username == "" {
		view.Username = "User"
	}
	var buf bytes.Buffer
	if err := otpTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("render otp mail: %w", err)
	}
	htmlBody := buf.String()
	textBody, err := htmlToText(htmlBody)
	if err != nil {
		return "", "", err
	}
	return htmlBody, textBody, nil
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		d = 10 * time.Minute
	}
	switch {
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	default:
		return plural(int(d.Round(time.Second)/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

const otpHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Nova AI</title>
</head>
<body style="margin: 0; padding: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background-color: #0f172a;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #0f172a; padding: 40px 20px;">
    <tr>
      <td align="center">
        <table role="presentation" width="500" cellspacing="0" cellpadding="0" style="background: #1e293b; border-radius: 16px; border: 1px solid #334155;">
          <tr>
            <td style="padding: 40px 40px 20px; text-align: center;">
              <h1 style="margin: 0; font-size: 28px; color: #22d3ee;">Nova AI</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 20px 40px;">
              <h2 style="margin: 0 0 16px; color: #f1f5f9; font-size: 22px;">Password Reset Request</h2>
              <p style="margin: 0 0 24px; color: #94a3b8; font-size: 16px; line-height: 1.6;">Hi {{.Username}},<br><br>We received a request to reset your password. Use the OTP below to proceed:</p>
              <div style="background: #0ea5e9; border-radius: 12px; padding: 24px; text-align: center; margin: 24px 0;">
                <span style="font-size: 36px; font-weight: 700; letter-spacing: 8px; color: #ffffff;">{{.OTP}}</span>
              </div>
              <p style="margin: 24px 0 0; color: #94a3b8; font-size: 14px; line-height: 1.6;">This OTP is valid for <strong style="color: #22d3ee;">{{.Validity}}</strong>.<br><br>If you didn't request this, please ignore this email or contact support if you have concerns.</p>
            </td>
          </tr>
          <tr>
            <td style="padding: 20px 40px 40px; text-align: center; border-top: 1px solid #334155;">
              <p style="margin: 0; color: #64748b; font-size: 12px;">© {{.Year}} Nova AI. All rights reserved.</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`
