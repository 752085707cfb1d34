package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/ratelimiter"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

var (
	// ErrUnsupportedProvider is returned when no adapter exists for the
	// (channel, provider) pair.
	ErrUnsupportedProvider = errors.New("unsupported provider for channel")
	// ErrInvalidConfig wraps validation failures of a decrypted config.
	ErrInvalidConfig = errors.New("invalid integration config")
)

// Endpoints are the provider base URLs, overridable for tests and sandboxes.
type Endpoints struct {
	ClickatellURL string
	TwilioBaseURL string
	MetaGraphURL  string
}

// Registry builds the Adapter for an integration. It owns the shared HTTP
// client and the per-channel rate limiter.
type Registry struct {
	endpoints Endpoints
	timeout   time.Duration
	client    *http.Client
	limiter   *ratelimiter.ChannelLimiters
	dialMail  MailDialer
}

// Option customises a Registry.
type Option func(*Registry)

// WithHTTPClient replaces the client used by HTTP providers.
func WithHTTPClient(c *http.Client) Option { return func(r *Registry) { r.client = c } }

// WithMailDialer replaces the SMTP client factory.
func WithMailDialer(d MailDialer) Option { return func(r *Registry) { r.dialMail = d } }

func NewRegistry(endpoints Endpoints, timeout time.Duration, limiter *ratelimiter.ChannelLimiters, opts ...Option) *Registry {
	r := &Registry{
		endpoints: endpoints,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		dialMail:  DialSMTP,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProviderName picks the provider for an integration: the decrypted
// config's "provider" key wins over the column, and WhatsApp falls back to
// the link generator.
func ProviderName(ch domain.Channel, integ *domain.Integration, cfg vault.Config) string {
	name := strings.ToLower(cfg.Get("provider", strings.TrimSpace(integ.ProviderName)))
	if name == "" {
		switch ch {
		case domain.ChannelEmail:
			return ProviderSMTP
		case domain.ChannelWhatsApp:
			return ProviderLinkGenerator
		}
	}
	return name
}

// Resolve validates cfg and returns the Adapter for ch. Errors wrap
// ErrUnsupportedProvider or ErrInvalidConfig; both are configuration
// problems, not delivery failures.
func (r *Registry) Resolve(ch domain.Channel, integ *domain.Integration, cfg vault.Config) (Adapter, error) {
	provider := ProviderName(ch, integ, cfg)

	var (
		adapter Adapter
		err     error
	)
	switch {
	case ch == domain.ChannelEmail && provider == ProviderSMTP:
		c := smtpConfigFrom(cfg, integ)
		if err = c.Validate(); err == nil {
			adapter = NewEmailAdapter(c, r.timeout, r.dialMail)
		}
	case ch == domain.ChannelSMS && provider == ProviderClickatell:
		c := clickatellConfigFrom(cfg)
		if err = c.Validate(); err == nil {
			adapter = NewClickatellAdapter(c, r.endpoints.ClickatellURL, r.client)
		}
	case (ch == domain.ChannelSMS || ch == domain.ChannelWhatsApp) && provider == ProviderTwilio:
		c := twilioConfigFrom(cfg, ch)
		if err = c.Validate(); err == nil {
			adapter = NewTwilioAdapter(c, ch, r.endpoints.TwilioBaseURL, r.client)
		}
	case ch == domain.ChannelWhatsApp && provider == ProviderMetaCloud:
		c := metaCloudConfigFrom(cfg)
		if err = c.Validate(); err == nil {
			adapter = NewMetaCloudAdapter(c, r.endpoints.MetaGraphURL, r.client)
		}
	case ch == domain.ChannelWhatsApp && provider == ProviderLinkGenerator:
		// Local link building is not throttled.
		return NewLinkAdapter(), nil
	default:
		return nil, fmt.Errorf("%w: %s/%q", ErrUnsupportedProvider, ch, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %s", ErrInvalidConfig, ch, provider, describe(err))
	}
	return &throttled{Adapter: adapter, channel: ch, limiter: r.limiter}, nil
}

// describe renders a validation error without echoing field values.
func describe(err error) string {
	var errs validation.Errors
	if errors.As(err, &errs) {
		return errs.Error()
	}
	return err.Error()
}

// throttled waits for the channel's rate limiter before each send.
type throttled struct {
	Adapter
	channel domain.Channel
	limiter *ratelimiter.ChannelLimiters
}

func (t *throttled) Send(ctx context.Context, msg Message) Result {
	if err := t.limiter.Wait(ctx, t.channel); err != nil {
		return failure(t.Provider(), "rate limit wait: %v", err)
	}
	return t.Adapter.Send(ctx, msg)
}
