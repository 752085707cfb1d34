package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

// ClickatellConfig is the decrypted configuration of a clickatell
// integration. From is optional; Clickatell picks a sender when empty.
type ClickatellConfig struct {
	APIKey string
	From   string
}

func clickatellConfigFrom(cfg vault.Config) ClickatellConfig {
	return ClickatellConfig{
		APIKey: cfg.Get("clickatell_api_key", cfg.Get("api_key", "")),
		From:   cfg.Get("clickatell_from", ""),
	}
}

func (c ClickatellConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.From, validation.By(func(v any) error {
			s, _ := v.(string)
			if s == "" || e164Pattern.MatchString(NormalizePhone(s)) || alphaSenderID.MatchString(s) {
				return nil
			}
			return validation.NewError("validation_sender_id", "must be E.164 or 3-11 letters and digits")
		})),
	)
}

// TwilioConfig is shared by Twilio SMS and Twilio WhatsApp integrations.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

func twilioConfigFrom(cfg vault.Config, ch domain.Channel) TwilioConfig {
	from := cfg.Get("twilio_from_number", "")
	if ch == domain.ChannelWhatsApp {
		from = cfg.Get("twilio_whatsapp_from", from)
	}
	return TwilioConfig{
		AccountSID: cfg.Get("twilio_account_sid", ""),
		AuthToken:  cfg.Get("twilio_auth_token", ""),
		From:       NormalizePhone(strings.TrimPrefix(from, "whatsapp:")),
	}
}

func (c TwilioConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AccountSID, validation.Required),
		validation.Field(&c.AuthToken, validation.Required),
		validation.Field(&c.From, validation.Required, e164Rule),
	)
}

// ClickatellAdapter sends SMS through the Clickatell platform API.
type ClickatellAdapter struct {
	cfg      ClickatellConfig
	endpoint string
	client   *http.Client
}

func NewClickatellAdapter(cfg ClickatellConfig, endpoint string, client *http.Client) *ClickatellAdapter {
	return &ClickatellAdapter{cfg: cfg, endpoint: endpoint, client: client}
}

func (a *ClickatellAdapter) Provider() string { return ProviderClickatell }

type clickatellRequest struct {
	Messages []clickatellMessage `json:"messages"`
}

type clickatellMessage struct {
	Channel string   `json:"channel"`
	To      []string `json:"to"`
	Content string   `json:"content"`
	From    string   `json:"from,omitempty"`
}

type clickatellResponse struct {
	Messages []struct {
		Accepted         bool   `json:"accepted"`
		ErrorDescription string `json:"errorDescription"`
	} `json:"messages"`
}

func (a *ClickatellAdapter) Send(ctx context.Context, msg Message) Result {
	if err := ValidateRecipient(domain.ChannelSMS, msg.Recipient); err != nil {
		return failure(ProviderClickatell, "invalid recipient phone: %v", err)
	}

	req := clickatellRequest{Messages: []clickatellMessage{{
		Channel: "sms",
		To:      []string{digitsOnly(msg.Recipient)},
		Content: TruncateSMS(msg.Body),
		From:    a.cfg.From,
	}}}
	resp, err := postJSON(ctx, a.client, a.endpoint, map[string]string{"Authorization": a.cfg.APIKey}, req)
	if err != nil {
		return failure(ProviderClickatell, "sms request failed: %v", err)
	}
	if !resp.ok() {
		return failure(ProviderClickatell, "%s", rejection(resp))
	}

	var decoded clickatellResponse
	if json.Unmarshal(resp.body, &decoded) == nil && len(decoded.Messages) > 0 && !decoded.Messages[0].Accepted {
		detail := decoded.Messages[0].ErrorDescription
		if detail == "" {
			detail = "message not accepted"
		}
		return failure(ProviderClickatell, "%s", detail)
	}
	return success(ProviderClickatell)
}

// TwilioAdapter sends SMS or WhatsApp messages through Twilio's Messages
// resource. WhatsApp addresses carry the "whatsapp:" prefix.
type TwilioAdapter struct {
	cfg     TwilioConfig
	channel domain.Channel
	baseURL string
	client  *http.Client
}

func NewTwilioAdapter(cfg TwilioConfig, ch domain.Channel, baseURL string, client *http.Client) *TwilioAdapter {
	return &TwilioAdapter{cfg: cfg, channel: ch, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *TwilioAdapter) Provider() string { return ProviderTwilio }

func (a *TwilioAdapter) Send(ctx context.Context, msg Message) Result {
	if err := ValidateRecipient(a.channel, msg.Recipient); err != nil {
		return failure(ProviderTwilio, "invalid recipient phone: %v", err)
	}

	to, from, body := NormalizePhone(msg.Recipient), a.cfg.From, msg.Body
	if a.channel == domain.ChannelWhatsApp {
		to, from = "whatsapp:"+to, "whatsapp:"+from
	} else {
		body = TruncateSMS(body)
	}

	endpoint := a.baseURL + "/Accounts/" + url.PathEscape(a.cfg.AccountSID) + "/Messages.json"
	form := url.Values{"To": {to}, "From": {from}, "Body": {body}}
	resp, err := postForm(ctx, a.client, endpoint, &basicAuth{a.cfg.AccountSID, a.cfg.AuthToken}, form)
	if err != nil {
		return failure(ProviderTwilio, "%s request failed: %v", a.channel, err)
	}
	if !resp.ok() {
		return failure(ProviderTwilio, "%s", rejection(resp))
	}
	return success(ProviderTwilio)
}

var (
	_ Adapter = (*ClickatellAdapter)(nil)
	_ Adapter = (*TwilioAdapter)(nil)
)
