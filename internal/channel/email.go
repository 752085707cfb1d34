package channel

import (
	"context"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/wneessen/go-mail"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

// SMTPConfig is the decrypted configuration of an smtp integration.
type SMTPConfig struct {
	Host      string
	Port      int
	Crypto    string // "tls", "ssl" or "" for plaintext
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

func smtpConfigFrom(cfg vault.Config, integ *domain.Integration) SMTPConfig {
	port, err := strconv.Atoi(cfg.Get("port", "587"))
	if err != nil {
		port = -1
	}
	return SMTPConfig{
		Host:      cfg.Get("host", ""),
		Port:      port,
		Crypto:    strings.ToLower(cfg.Get("crypto", "")),
		Username:  cfg.Get("username", ""),
		Password:  cfg.Get("password", ""),
		FromEmail: cfg.Get("from_email", integ.FromAddress),
		FromName:  cfg.Get("from_name", integ.FromName),
	}
}

func (c SMTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required, is.Host),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Crypto, validation.In("", "tls", "ssl")),
		validation.Field(&c.Password, validation.When(c.Username != "", validation.Required)),
		validation.Field(&c.FromEmail, validation.Required, is.EmailFormat),
	)
}

// MailSender is the part of *mail.Client the email adapter uses.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// MailDialer builds a MailSender for one SMTP configuration.
type MailDialer func(cfg SMTPConfig, timeout time.Duration) (MailSender, error)

// DialSMTP is the production MailDialer backed by go-mail.
func DialSMTP(cfg SMTPConfig, timeout time.Duration) (MailSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(timeout),
	}
	switch cfg.Crypto {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "tls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return mail.NewClient(cfg.Host, opts...)
}

// EmailAdapter sends plain-text email over SMTP.
type EmailAdapter struct {
	cfg     SMTPConfig
	timeout time.Duration
	dial    MailDialer
}

func NewEmailAdapter(cfg SMTPConfig, timeout time.Duration, dial MailDialer) *EmailAdapter {
	if dial == nil {
		dial = DialSMTP
	}
	return &EmailAdapter{cfg: cfg, timeout: timeout, dial: dial}
}

func (a *EmailAdapter) Provider() string { return ProviderSMTP }

func (a *EmailAdapter) Send(ctx context.Context, msg Message) Result {
	if err := ValidateRecipient(domain.ChannelEmail, msg.Recipient); err != nil {
		return failure(ProviderSMTP, "invalid recipient email: %v", err)
	}

	m := mail.NewMsg()
	if err := m.FromFormat(a.cfg.FromName, a.cfg.FromEmail); err != nil {
		return failure(ProviderSMTP, "invalid sender: %v", err)
	}
	if err := m.To(strings.TrimSpace(msg.Recipient)); err != nil {
		return failure(ProviderSMTP, "invalid recipient email: %v", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	if msg.CorrelationID != "" {
		m.SetGenHeader(mail.Header("X-Correlation-ID"), msg.CorrelationID)
	}

	client, err := a.dial(a.cfg, a.timeout)
	if err != nil {
		return failure(ProviderSMTP, "smtp client: %v", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return failure(ProviderSMTP, "smtp send: %v", err)
	}
	return success(ProviderSMTP)
}

var _ Adapter = (*EmailAdapter)(nil)
