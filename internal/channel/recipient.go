package channel

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

var (
	e164Pattern       = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	alphaSenderID     = regexp.MustCompile(`^[A-Za-z0-9]{3,11}$`)
	numericIDPattern  = regexp.MustCompile(`^\d+$`)
	phoneFormatNoises = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

var e164Rule = validation.Match(e164Pattern).Error("must be an E.164 phone number like +15551234567")

// NormalizePhone strips common formatting characters so "+1 (555) 123-4567"
// validates as E.164.
func NormalizePhone(phone string) string {
	return phoneFormatNoises.Replace(strings.TrimSpace(phone))
}

// ValidateRecipient checks the recipient address format for ch.
func ValidateRecipient(ch domain.Channel, recipient string) error {
	switch ch {
	case domain.ChannelEmail:
		return validation.Validate(strings.TrimSpace(recipient), validation.Required, is.EmailFormat)
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		return validation.Validate(NormalizePhone(recipient), validation.Required, e164Rule)
	}
	return domain.ErrInvalidChannel
}

// digitsOnly drops the leading '+' of an E.164 number.
func digitsOnly(phone string) string {
	return strings.TrimPrefix(NormalizePhone(phone), "+")
}
