// Package notifier delivers re-authorization emails over SMTP.
package notifier

import (
	"bytes"
	"fmt"
	"log/slog"
	"text/template"

	"gopkg.in/gomail.v2"

	"github.com/open-banking-archiver/internal/config"
	"github.com/open-banking-archiver/internal/domain/bank"
)

const activationSubject = "Open Banking Connection Activation"

const activationBodyTemplate = `Hello,

Your connection with {{.BankName}} requires authorization before its
transactions can be archived. Visit the link below to activate it:

{{.Link}}

The link stays valid until the bank connection is activated or the
requisition expires. You will receive a new email if a fresh authorization
is ever needed.
`

var activationBody = template.Must(template.New("activation").Parse(activationBodyTemplate))

// EmailSender sends consent activation links to the configured recipient
type EmailSender struct {
	dialer *gomail.Dialer
	cfg    *config.SMTPConfig
	logger *slog.Logger
}

// NewEmailSender creates a sender from SMTP configuration. The connection
// is dialed per message; the relay is only reachable during sends.
func NewEmailSender(logger *slog.Logger, cfg *config.SMTPConfig) *EmailSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &EmailSender{
		dialer: dialer,
		cfg:    cfg,
		logger: logger,
	}
}

// SendActivationLink emails the consent link for a bank to the configured
// user address. The pipeline sends at most one of these per requisition
// lifecycle.
func (s *EmailSender) SendActivationLink(b *bank.Bank, link string) error {
	var body bytes.Buffer
	err := activationBody.Execute(&body, struct {
		BankName string
		Link     string
	}{
		BankName: b.Name,
		Link:     link,
	})
	if err != nil {
		return fmt.Errorf("failed to render activation email: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.FromEmail)
	msg.SetHeader("To", s.cfg.UserEmail)
	msg.SetHeader("Subject", activationSubject)
	msg.SetBody("text/plain", body.String())

	s.logger.Debug("Sending activation email", "bank", b.Name, "to", s.cfg.UserEmail)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send activation email for %s: %w", b.Name, err)
	}

	return nil
}
