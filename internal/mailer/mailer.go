// Package mailer delivers digest emails over SMTP.
//
// The mailer has no idempotency of its own; callers hold the send lock for the
// reporting unit before calling Send.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"radiodigest/internal/config"
	"radiodigest/internal/services"
)

// Message is one outbound email.
type Message struct {
	To      []string
	Subject string
	Body    string
	// Headers are extra generic headers such as the reporting unit reference.
	Headers map[string]string
}

// Sender sends one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender implements Sender with go-mail.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	policy   mail.TLSPolicy
	timeout  time.Duration
}

// New builds an SMTPSender from the [smtp] config section.
func New(cfg config.SMTP) (*SMTPSender, error) {
	policy, err := tlsPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{
		host:     strings.TrimSpace(cfg.Host),
		port:     cfg.Port,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
		policy:   policy,
		timeout:  timeout,
	}, nil
}

func tlsPolicy(value string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, services.Wrap(services.ErrConfiguration, "mailer", "tls policy", fmt.Sprintf("unknown value %q", value), nil)
	}
}

// Send dials the SMTP server and delivers msg once.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return services.Wrap(services.ErrValidation, "mailer", "send", "no recipients", nil)
	}
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return services.Wrap(services.ErrConfiguration, "mailer", "from", s.from, err)
	}
	if err := m.To(msg.To...); err != nil {
		return services.Wrap(services.ErrValidation, "mailer", "recipients", strings.Join(msg.To, ", "), err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	for key, value := range msg.Headers {
		m.SetGenHeader(mail.Header(key), value)
	}
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(s.policy),
		mail.WithTimeout(s.timeout),
	}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}
	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "mailer", "client", s.host, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return services.Wrap(services.ErrExternalTool, "mailer", "send", fmt.Sprintf("%s:%d", s.host, s.port), err)
	}
	return nil
}

// Check reports whether the sender is configured enough to attempt delivery.
func (s *SMTPSender) Check() error {
	if s.host == "" || s.from == "" {
		return services.Wrap(services.ErrConfiguration, "mailer", "check", "smtp host and from address are required", nil)
	}
	return nil
}
