package channel

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// SMSMaxLength is the longest SMS body sent; longer bodies are cut and end
// with "...".
const SMSMaxLength = 248

const (
	dateLayout = "Mon, Jan 2, 2006"
	timeLayout = "3:04 PM"
)

type template struct {
	subject string
	body    string
}

type templateKey struct {
	channel domain.Channel
	event   domain.EventType
}

var defaultTemplates = map[templateKey]template{
	{domain.ChannelEmail, domain.EventAppointmentConfirmed}: {
		subject: "Appointment Confirmed - {service_name}",
		body:    "Hi {customer_name},\n\nYour appointment has been confirmed.\n\nDate: {appointment_date}\nTime: {appointment_time}\nService: {service_name}\nWith: {provider_name}\n\nThank you for booking with {business_name}!",
	},
	{domain.ChannelEmail, domain.EventAppointmentReminder}: {
		subject: "Reminder: Your Upcoming Appointment - {service_name}",
		body:    "Hi {customer_name},\n\nThis is a friendly reminder about your upcoming appointment.\n\nDate: {appointment_date}\nTime: {appointment_time}\nService: {service_name}\nWith: {provider_name}\n\nWe look forward to seeing you!\n\n{business_name}",
	},
	{domain.ChannelEmail, domain.EventAppointmentCancelled}: {
		subject: "Appointment Cancelled - {service_name}",
		body:    "Hi {customer_name},\n\nYour appointment has been cancelled.\n\nDate: {appointment_date}\nTime: {appointment_time}\nService: {service_name}\n\nWe hope to see you again soon.\n\n{business_name}",
	},
	{domain.ChannelEmail, domain.EventAppointmentRescheduled}: {
		subject: "Appointment Rescheduled - {service_name}",
		body:    "Hi {customer_name},\n\nYour appointment has been rescheduled to:\n\nDate: {appointment_date}\nTime: {appointment_time}\nService: {service_name}\nWith: {provider_name}\n\n{business_name}",
	},
	{domain.ChannelSMS, domain.EventAppointmentConfirmed}: {
		body: "Appt confirmed: {service_name} on {appointment_date} at {appointment_time} with {provider_name}. {business_name}",
	},
	{domain.ChannelSMS, domain.EventAppointmentReminder}: {
		body: "Reminder: {service_name} on {appointment_date} at {appointment_time}. {business_name}",
	},
	{domain.ChannelSMS, domain.EventAppointmentCancelled}: {
		body: "Appt cancelled: {service_name} on {appointment_date}. Contact us to reschedule. {business_name}",
	},
	{domain.ChannelSMS, domain.EventAppointmentRescheduled}: {
		body: "Appt rescheduled: {service_name} now {appointment_date} at {appointment_time}. {business_name}",
	},
	{domain.ChannelWhatsApp, domain.EventAppointmentConfirmed}: {
		body: "*Appointment Confirmed*\n\nHi {customer_name}!\n\n*Date:* {appointment_date}\n*Time:* {appointment_time}\n*Service:* {service_name}\n*With:* {provider_name}\n\nThank you for booking with {business_name}!",
	},
	{domain.ChannelWhatsApp, domain.EventAppointmentReminder}: {
		body: "*Appointment Reminder*\n\nHi {customer_name}!\n\n*Date:* {appointment_date}\n*Time:* {appointment_time}\n*Service:* {service_name}\n*With:* {provider_name}\n\nWe look forward to seeing you!\n\n_{business_name}_",
	},
	{domain.ChannelWhatsApp, domain.EventAppointmentCancelled}: {
		body: "*Appointment Cancelled*\n\nHi {customer_name},\n\n*Date:* {appointment_date}\n*Time:* {appointment_time}\n*Service:* {service_name}\n\nWe hope to see you again soon!\n\n_{business_name}_",
	},
	{domain.ChannelWhatsApp, domain.EventAppointmentRescheduled}: {
		body: "*Appointment Rescheduled*\n\nHi {customer_name}!\n\n*New date:* {appointment_date}\n*New time:* {appointment_time}\n*Service:* {service_name}\n*With:* {provider_name}\n\n_{business_name}_",
	},
}

// Renderer fills the built-in templates for an appointment. Dates are shown
// in the configured display timezone.
type Renderer struct {
	loc          *time.Location
	businessName string
}

func NewRenderer(loc *time.Location, businessName string) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc, businessName: businessName}
}

// Render builds the Message for item addressed to recipient.
func (r *Renderer) Render(item *domain.QueueItem, appt *domain.Appointment, recipient string) Message {
	vars := r.variables(appt)
	replacer := strings.NewReplacer(placeholderPairs(vars)...)

	tpl := defaultTemplates[templateKey{item.Channel, item.EventType}]
	if tpl.body == "" {
		tpl = defaultTemplates[templateKey{item.Channel, domain.EventAppointmentReminder}]
	}

	msg := Message{
		Channel:       item.Channel,
		EventType:     item.EventType,
		Recipient:     recipient,
		Subject:       replacer.Replace(tpl.subject),
		Body:          replacer.Replace(tpl.body),
		CorrelationID: item.CorrelationID,
		TemplateParams: []string{
			vars["customer_name"],
			vars["service_name"],
			vars["appointment_date"],
			vars["appointment_time"],
			vars["provider_name"],
		},
	}
	if item.Channel == domain.ChannelSMS {
		msg.Body = TruncateSMS(msg.Body)
	}
	return msg
}

func (r *Renderer) variables(appt *domain.Appointment) map[string]string {
	name := strings.TrimSpace(appt.CustomerFirstName + " " + appt.CustomerLastName)
	if name == "" {
		name = "Customer"
	}
	start := appt.StartAt.In(r.loc)
	return map[string]string{
		"customer_name":    name,
		"service_name":     appt.ServiceName,
		"provider_name":    appt.ProviderName,
		"appointment_date": start.Format(dateLayout),
		"appointment_time": start.Format(timeLayout),
		"business_name":    r.businessName,
	}
}

func placeholderPairs(vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return pairs
}

// TruncateSMS cuts body to SMSMaxLength runes.
func TruncateSMS(body string) string {
	if utf8.RuneCountInString(body) <= SMSMaxLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:SMSMaxLength-3]) + "..."
}
