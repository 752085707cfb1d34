package channel

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

// MetaCloudConfig is the decrypted configuration of a meta_cloud
// integration.
type MetaCloudConfig struct {
	PhoneNumberID    string
	AccessToken      string
	TemplateName     string
	TemplateLanguage string
}

func metaCloudConfigFrom(cfg vault.Config) MetaCloudConfig {
	return MetaCloudConfig{
		PhoneNumberID:    cfg.Get("phone_number_id", ""),
		AccessToken:      cfg.Get("access_token", ""),
		TemplateName:     cfg.Get("template_name", ""),
		TemplateLanguage: cfg.Get("template_language", "en_US"),
	}
}

func (c MetaCloudConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PhoneNumberID, validation.Required, validation.Match(numericIDPattern)),
		validation.Field(&c.AccessToken, validation.Required),
		validation.Field(&c.TemplateName, validation.Required),
	)
}

// MetaCloudAdapter sends pre-approved WhatsApp templates through the Graph
// API. Free text is not allowed outside a customer service window, so the
// rendered body is ignored and TemplateParams fill the template body.
type MetaCloudAdapter struct {
	cfg      MetaCloudConfig
	graphURL string
	client   *http.Client
}

func NewMetaCloudAdapter(cfg MetaCloudConfig, graphURL string, client *http.Client) *MetaCloudAdapter {
	return &MetaCloudAdapter{cfg: cfg, graphURL: strings.TrimRight(graphURL, "/"), client: client}
}

func (a *MetaCloudAdapter) Provider() string { return ProviderMetaCloud }

type metaTemplateRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         metaTemplate `json:"template"`
}

type metaTemplate struct {
	Name       string          `json:"name"`
	Language   metaLanguage    `json:"language"`
	Components []metaComponent `json:"components,omitempty"`
}

type metaLanguage struct {
	Code string `json:"code"`
}

type metaComponent struct {
	Type       string          `json:"type"`
	Parameters []metaParameter `json:"parameters"`
}

type metaParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (a *MetaCloudAdapter) Send(ctx context.Context, msg Message) Result {
	if err := ValidateRecipient(domain.ChannelWhatsApp, msg.Recipient); err != nil {
		return failure(ProviderMetaCloud, "invalid recipient phone: %v", err)
	}

	req := metaTemplateRequest{
		MessagingProduct: "whatsapp",
		To:               digitsOnly(msg.Recipient),
		Type:             "template",
		Template: metaTemplate{
			Name:     a.cfg.TemplateName,
			Language: metaLanguage{Code: a.cfg.TemplateLanguage},
		},
	}
	if len(msg.TemplateParams) > 0 {
		params := make([]metaParameter, len(msg.TemplateParams))
		for i, p := range msg.TemplateParams {
			params[i] = metaParameter{Type: "text", Text: p}
		}
		req.Template.Components = []metaComponent{{Type: "body", Parameters: params}}
	}

	endpoint := a.graphURL + "/" + url.PathEscape(a.cfg.PhoneNumberID) + "/messages"
	resp, err := postJSON(ctx, a.client, endpoint, map[string]string{"Authorization": "Bearer " + a.cfg.AccessToken}, req)
	if err != nil {
		return failure(ProviderMetaCloud, "whatsapp request failed: %v", err)
	}
	if !resp.ok() {
		return failure(ProviderMetaCloud, "%s", rejection(resp))
	}
	return success(ProviderMetaCloud)
}

// LinkAdapter produces a wa.me click-to-chat link instead of sending. The
// business follows the link by hand, so success only means the link exists.
type LinkAdapter struct{}

func NewLinkAdapter() *LinkAdapter { return &LinkAdapter{} }

func (a *LinkAdapter) Provider() string { return ProviderLinkGenerator }

func (a *LinkAdapter) Send(_ context.Context, msg Message) Result {
	if err := ValidateRecipient(domain.ChannelWhatsApp, msg.Recipient); err != nil {
		return failure(ProviderLinkGenerator, "invalid recipient phone: %v", err)
	}
	return Result{
		Provider: ProviderLinkGenerator,
		Success:  true,
		Link:     WhatsAppLink(msg.Recipient, msg.Body),
	}
}

// WhatsAppLink builds https://wa.me/<digits>?text=<percent-encoded text>.
func WhatsAppLink(phone, text string) string {
	link := "https://wa.me/" + digitsOnly(phone)
	if text != "" {
		link += "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	}
	return link
}

var (
	_ Adapter = (*MetaCloudAdapter)(nil)
	_ Adapter = (*LinkAdapter)(nil)
)
