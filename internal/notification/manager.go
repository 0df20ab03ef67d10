package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"sync"
	"text/template"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	v2010 "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Damatnic/CoreV6-sub001/internal/config"
)

// Contact is a deliverable recipient for crisis notifications.
type Contact struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// ContactSource resolves responder and crisis team IDs to contacts. A nil
// contact with nil error means the ID is unknown.
type ContactSource interface {
	Contact(ctx context.Context, id string) (*Contact, error)
}

// StaticRoster is a fixed in-process ContactSource, used when responder
// contacts come from configuration rather than a directory service.
type StaticRoster map[string]Contact

func (r StaticRoster) Contact(_ context.Context, id string) (*Contact, error) {
	c, ok := r[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Manager fans crisis events out to the configured channels. Delivery
// failures are logged and reported to the caller but never retried inline;
// the caller decides whether a failed channel degrades or aborts.
type Manager struct {
	cfg      config.NotificationsConfig
	logger   *zap.Logger
	contacts ContactSource
	webhook  *WebhookClient

	emailTemplates *template.Template
	smsTemplates   *template.Template

	limiterMu sync.RWMutex
	limiters  map[string]*rate.Limiter
}

func NewManager(cfg config.NotificationsConfig, logger *zap.Logger, contacts ContactSource) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		contacts: contacts,
		limiters: make(map[string]*rate.Limiter),
	}
	if err := m.initTemplates(); err != nil {
		return nil, fmt.Errorf("failed to initialize notification templates: %w", err)
	}
	if cfg.Webhook.Enabled {
		m.webhook = NewWebhookClient(cfg.Webhook, logger)
	}
	m.initRateLimiters()
	return m, nil
}

// Notify delivers one event to every target over every enabled channel the
// target's contact supports. It returns an error only when every delivery
// attempt failed.
func (m *Manager) Notify(ctx context.Context, targets []string, eventType string, payload map[string]interface{}) error {
	msg, err := m.render(eventType, payload)
	if err != nil {
		return err
	}

	attempted, failed := 0, 0
	for _, target := range targets {
		contact, err := m.resolve(ctx, target)
		if err != nil {
			m.logger.Warn("failed to resolve notification target",
				zap.String("target", target), zap.Error(err))
			attempted++
			failed++
			continue
		}
		if contact == nil {
			m.logger.Warn("unknown notification target", zap.String("target", target))
			continue
		}

		if m.cfg.Email.Enabled && contact.Email != "" {
			attempted++
			if err := m.sendEmail(ctx, contact, msg); err != nil {
				m.logger.Error("email delivery failed",
					zap.String("target", target), zap.Error(err))
				failed++
			}
		}
		if m.cfg.SMS.Enabled && contact.Phone != "" {
			attempted++
			if err := m.sendSMS(ctx, contact, msg); err != nil {
				m.logger.Error("sms delivery failed",
					zap.String("target", target), zap.Error(err))
				failed++
			}
		}
	}

	if m.webhook != nil {
		attempted++
		if err := m.deliverWebhook(ctx, targets, eventType, payload); err != nil {
			m.logger.Error("webhook delivery failed", zap.Error(err))
			failed++
		}
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("all %d notification deliveries failed for event %s", attempted, eventType)
	}
	return nil
}

func (m *Manager) resolve(ctx context.Context, target string) (*Contact, error) {
	if m.contacts == nil {
		return nil, nil
	}
	return m.contacts.Contact(ctx, target)
}

func (m *Manager) sendEmail(ctx context.Context, contact *Contact, msg *renderedMessage) error {
	if !m.allow("email") {
		return fmt.Errorf("email rate limit exceeded")
	}
	switch m.cfg.Email.Provider {
	case "sendgrid":
		return m.sendEmailViaSendGrid(ctx, contact, msg)
	case "smtp":
		return m.sendEmailViaSMTP(contact, msg)
	default:
		return fmt.Errorf("unsupported email provider: %s", m.cfg.Email.Provider)
	}
}

func (m *Manager) sendEmailViaSendGrid(ctx context.Context, contact *Contact, msg *renderedMessage) error {
	from := mail.NewEmail(m.cfg.Email.FromName, m.cfg.Email.FromAddress)
	to := mail.NewEmail(contact.Name, contact.Email)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)

	client := sendgrid.NewSendClient(m.cfg.Email.SendGridAPIKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid returned status %d", response.StatusCode)
	}
	return nil
}

func (m *Manager) sendEmailViaSMTP(contact *Contact, msg *renderedMessage) error {
	body := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s",
		contact.Email, msg.Subject, msg.Body)

	auth := smtp.PlainAuth("", m.cfg.Email.SMTPUsername, m.cfg.Email.SMTPPassword, m.cfg.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", m.cfg.Email.SMTPHost, m.cfg.Email.SMTPPort)
	if err := smtp.SendMail(addr, auth, m.cfg.Email.FromAddress, []string{contact.Email}, []byte(body)); err != nil {
		return fmt.Errorf("failed to send email via SMTP: %w", err)
	}
	return nil
}

func (m *Manager) sendSMS(_ context.Context, contact *Contact, msg *renderedMessage) error {
	if !m.allow("sms") {
		return fmt.Errorf("sms rate limit exceeded")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: m.cfg.SMS.TwilioSID,
		Password: m.cfg.SMS.TwilioToken,
	})

	params := &v2010.CreateMessageParams{}
	params.SetTo(contact.Phone)
	params.SetFrom(m.cfg.SMS.FromNumber)
	params.SetBody(msg.SMS)

	if _, err := client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send SMS via Twilio: %w", err)
	}
	return nil
}

func (m *Manager) deliverWebhook(ctx context.Context, targets []string, eventType string, payload map[string]interface{}) error {
	if !m.allow("webhook") {
		return fmt.Errorf("webhook rate limit exceeded")
	}
	return m.webhook.Send(ctx, &WebhookEvent{
		EventType: eventType,
		Targets:   targets,
		Payload:   payload,
	})
}

// Rate limiting

func (m *Manager) allow(channel string) bool {
	m.limiterMu.RLock()
	limiter, ok := m.limiters[channel]
	m.limiterMu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

func (m *Manager) initRateLimiters() {
	if m.cfg.Email.RateLimitPerMin > 0 {
		m.limiters["email"] = rate.NewLimiter(rate.Limit(m.cfg.Email.RateLimitPerMin)/60, m.cfg.Email.RateLimitPerMin)
	}
	if m.cfg.SMS.RateLimitPerMin > 0 {
		m.limiters["sms"] = rate.NewLimiter(rate.Limit(m.cfg.SMS.RateLimitPerMin)/60, m.cfg.SMS.RateLimitPerMin)
	}
	if m.cfg.Webhook.RateLimitPerMin > 0 {
		m.limiters["webhook"] = rate.NewLimiter(rate.Limit(m.cfg.Webhook.RateLimitPerMin)/60, m.cfg.Webhook.RateLimitPerMin)
	}
}

// Template rendering

type renderedMessage struct {
	Subject string
	Body    string
	SMS     string
}

func (m *Manager) render(eventType string, payload map[string]interface{}) (*renderedMessage, error) {
	data := map[string]interface{}{"EventType": eventType}
	for k, v := range payload {
		data[k] = v
	}

	name := templateNameFor(eventType)

	var bodyBuf bytes.Buffer
	if err := m.emailTemplates.ExecuteTemplate(&bodyBuf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render email template %s: %w", name, err)
	}
	var smsBuf bytes.Buffer
	if err := m.smsTemplates.ExecuteTemplate(&smsBuf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render sms template %s: %w", name, err)
	}

	return &renderedMessage{
		Subject: subjectFor(eventType),
		Body:    bodyBuf.String(),
		SMS:     smsBuf.String(),
	}, nil
}

func templateNameFor(eventType string) string {
	switch eventType {
	case "crisis.responder_notification", "crisis.connect_request":
		return "crisis-alert"
	default:
		return "generic"
	}
}

func subjectFor(eventType string) string {
	switch eventType {
	case "crisis.responder_notification":
		return "Crisis alert: immediate response needed"
	case "crisis.connect_request":
		return "Crisis alert: connection requested"
	default:
		return "Platform notification"
	}
}

func (m *Manager) initTemplates() error {
	emailTemplates := template.New("email")

	crisisEmail := `A crisis alert requires your attention.

Severity: {{.severity}}
Alert ID: {{.alert_id}}
Detected: {{.detected_at}}

Please respond through the responder console immediately.`

	genericEmail := `Platform event: {{.EventType}}

{{range $k, $v := .}}{{if ne $k "EventType"}}{{$k}}: {{$v}}
{{end}}{{end}}`

	if _, err := emailTemplates.New("crisis-alert").Parse(crisisEmail); err != nil {
		return fmt.Errorf("failed to parse crisis email template: %w", err)
	}
	if _, err := emailTemplates.New("generic").Parse(genericEmail); err != nil {
		return fmt.Errorf("failed to parse generic email template: %w", err)
	}
	m.emailTemplates = emailTemplates

	smsTemplates := template.New("sms")
	crisisSMS := `CRISIS ALERT [{{.severity}}] alert {{.alert_id}}. Respond via console now.`
	genericSMS := `Platform event: {{.EventType}}`

	if _, err := smsTemplates.New("crisis-alert").Parse(crisisSMS); err != nil {
		return fmt.Errorf("failed to parse crisis sms template: %w", err)
	}
	if _, err := smsTemplates.New("generic").Parse(genericSMS); err != nil {
		return fmt.Errorf("failed to parse generic sms template: %w", err)
	}
	m.smsTemplates = smsTemplates
	return nil
}
