// Package channel delivers rendered reminders through email, SMS and
// WhatsApp providers.
//
// Adapters never return Go errors or panic past Send: every transport,
// provider or recipient problem becomes a Result with Success false.
package channel

import (
	"context"
	"fmt"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// Provider names as stored in business_integrations.provider_name or the
// "provider" key of the decrypted config.
const (
	ProviderSMTP          = "smtp"
	ProviderClickatell    = "clickatell"
	ProviderTwilio        = "twilio"
	ProviderMetaCloud     = "meta_cloud"
	ProviderLinkGenerator = "link_generator"
)

// Message is one rendered notification ready for a provider.
type Message struct {
	Channel       domain.Channel
	EventType     domain.EventType
	Recipient     string
	Subject       string
	Body          string
	CorrelationID string

	// TemplateParams are positional body parameters for providers that
	// send pre-approved templates instead of free text.
	TemplateParams []string
}

// Result is the outcome of a single Send.
type Result struct {
	Provider    string
	Success     bool
	ErrorDetail string
	// Link is set by providers that produce a click-to-send URL instead of
	// delivering the message themselves.
	Link string
}

// Adapter sends a Message through one provider.
type Adapter interface {
	Provider() string
	Send(ctx context.Context, msg Message) Result
}

func failure(provider, format string, args ...any) Result {
	return Result{Provider: provider, ErrorDetail: fmt.Sprintf(format, args...)}
}

func success(provider string) Result {
	return Result{Provider: provider, Success: true}
}
