package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/quotehive/quotehive/internal/config"
)

// Sender delivers transactional email over SMTP. With no host configured
// it logs instead of sending, which is what local development wants.
type Sender struct {
	host     string
	port     int
	username string
	password string
	from     string
	log      *zap.Logger
}

func NewSender(cfg config.Config, log *zap.Logger) *Sender {
	return &Sender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		log:      log.Named("notification.email"),
	}
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if s.host == "" {
		s.log.Info("smtp not configured, skipping email",
			zap.String("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	s.log.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}
