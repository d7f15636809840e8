package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/metrics"
	"github.com/huangang/contractorhub/backend/pkg/logger"
)

type EmailService struct {
	cfg *config.SMTPConfig
	// send is swapped in tests.
	send func(cfg *config.SMTPConfig, to []string, subject, body string) error
}

func NewEmailService(cfg *config.SMTPConfig) *EmailService {
	s := &EmailService{cfg: cfg}
	s.send = s.sendEmail
	return s
}

// Enabled reports whether SMTP delivery is configured.
func (s *EmailService) Enabled() bool {
	return s.cfg != nil && s.cfg.Enabled && s.cfg.Host != ""
}

// SendInvitation is the processor for TaskTypeInvitationEmail.
func (s *EmailService) SendInvitation(ctx context.Context, task *InvitationEmailTask) error {
	if !s.Enabled() {
		logger.Info().Uint("invitation_id", task.InvitationID).Msg("smtp disabled, invitation email skipped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("You're invited to join %s", task.CompanyName)
	body := buildInvitationEmail(task)
	if err := s.send(s.cfg, []string{task.Email}, subject, body); err != nil {
		metrics.RecordEmailDelivery(false)
		return fmt.Errorf("send invitation email: %w", err)
	}
	metrics.RecordEmailDelivery(true)
	logger.Info().Uint("invitation_id", task.InvitationID).Msg("invitation email sent")
	return nil
}

func buildInvitationEmail(t *InvitationEmailTask) string {
	var sb strings.Builder

	name := t.RecipientName
	if name == "" {
		name = t.Email
	}

	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString(fmt.Sprintf("<p>Hello %s,</p>", html.EscapeString(name)))
	inviter := "A team administrator"
	if t.InviterName != "" {
		inviter = t.InviterName
	}
	sb.WriteString(fmt.Sprintf("<p>%s has invited you to join <strong>%s</strong> on the contractor portal.</p>",
		html.EscapeString(inviter), html.EscapeString(t.CompanyName)))
	sb.WriteString(fmt.Sprintf("<p><a href=\"%s\" style=\"display:inline-block;padding:10px 16px;background:#1d4ed8;color:#fff;text-decoration:none;border-radius:4px;\">Accept invitation</a></p>",
		html.EscapeString(t.AcceptURL)))
	sb.WriteString(fmt.Sprintf("<p style=\"color:#555;\">This link can be used once and expires on %s.</p>",
		t.ExpiresAt.UTC().Format(time.RFC1123)))
	sb.WriteString("<hr><p style=\"color: #888; font-size: 12px;\">If you did not expect this invitation you can ignore this e-mail.</p>")
	sb.WriteString("</body></html>")

	return sb.String()
}

func (s *EmailService) sendEmail(cfg *config.SMTPConfig, to []string, subject, body string) error {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	headers := [][2]string{
		{"From", from},
		{"To", strings.Join(to, ",")},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var message strings.Builder
	for _, h := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	var err error
	if cfg.UseTLS {
		err = sendEmailTLS(cfg, addr, auth, from, to, message.String())
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message.String()))
	}

	if err != nil {
		logger.Errorf("[Email] Failed to send email: %v", err)
		return err
	}

	logger.Infof("[Email] Sent %q to %d recipient(s)", subject, len(to))
	return nil
}

func sendEmailTLS(cfg *config.SMTPConfig, addr string, auth smtp.Auth, from string, to []string, message string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err = w.Write([]byte(message)); err != nil {
		return err
	}

	return w.Close()
}
