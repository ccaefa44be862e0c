// Package mail implements the outbound email dispatcher consumed by the
// account lifecycle. Delivery problems are the caller's to log, never to
// propagate to end users.
package mail

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"hireline.io/internal/account"
	"hireline.io/internal/config"
)

// SMTP delivers notifications over an SMTP relay.
type SMTP struct {
	cfg *config.Config
}

var _ account.Notifier = (*SMTP)(nil)

// NewSMTP validates the transport configuration.
func NewSMTP(cfg *config.Config) (*SMTP, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("mail: SMTP host is required")
	}
	if cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("mail: SMTP from address is required")
	}
	return &SMTP{cfg: cfg}, nil
}

// Send renders the template for n.Kind and delivers it.
func (s *SMTP) Send(ctx context.Context, n account.Notification) error {
	subject, body, err := render(n)
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if s.cfg.SMTPFromName != "" {
		if err := msg.FromFormat(s.cfg.SMTPFromName, s.cfg.SMTPFrom); err != nil {
			return fmt.Errorf("mail: from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.SMTPFrom); err != nil {
			return fmt.Errorf("mail: from address: %w", err)
		}
	}
	if err := msg.To(n.Recipient); err != nil {
		return fmt.Errorf("mail: to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	opts := []gomail.Option{gomail.WithPort(s.cfg.SMTPPort)}
	if s.cfg.SMTPTLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
		// Implicit TLS on 465, STARTTLS elsewhere.
		if s.cfg.SMTPPort == 465 {
			opts = append(opts, gomail.WithSSL())
		}
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	if s.cfg.SMTPUsername != "" && s.cfg.SMTPPassword != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.SMTPUsername),
			gomail.WithPassword(s.cfg.SMTPPassword),
		)
	}

	client, err := gomail.NewClient(s.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("mail: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send %s to %s: %w", n.Kind, n.Recipient, err)
	}
	return nil
}

func render(n account.Notification) (subject, body string, err error) {
	data := n.Data
	switch n.Kind {
	case account.NoticeApprovalRequest:
		subject = fmt.Sprintf("New tenant signup: %s", data["company_name"])
		body = strings.Join([]string{
			fmt.Sprintf("%s (%s) requested access.", data["company_name"], data["email"]),
			"",
			"Approve with this single-use link (valid for one hour):",
			data["approve_url"],
		}, "\n")
	case account.NoticeAccountApproved:
		subject = "Your account has been approved"
		body = strings.Join([]string{
			fmt.Sprintf("The account for %s is now active.", data["company_name"]),
			"You can sign in with your existing credentials.",
		}, "\n")
	case account.NoticePasswordReset:
		subject = "Password reset requested"
		body = strings.Join([]string{
			"A password reset was requested for this address.",
			"",
			"Reset with this single-use link (valid for one hour):",
			data["reset_url"],
			"",
			"If you did not request this, ignore this message.",
		}, "\n")
	default:
		return "", "", fmt.Errorf("mail: unknown notification kind %q", n.Kind)
	}
	return subject, body, nil
}

// Discard is a no-op notifier for development and tests.
type Discard struct{}

var _ account.Notifier = Discard{}

func (Discard) Send(context.Context, account.Notification) error { return nil }
