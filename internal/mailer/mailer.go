package mailer

import (
	"context"
	"fmt"

	"mcstore/config"
	"mcstore/internal/util"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

// dialer is the part of gomail.Dialer the mailer uses
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends transactional emails over SMTP. Without a host it only logs them.
type Mailer struct {
	cfg    config.MailConfig
	dialer dialer
	logger *zap.Logger
}

func NewMailer(cfg config.MailConfig) *Mailer {
	m := &Mailer{cfg: cfg, logger: util.GetLogger()}
	if cfg.Host != "" {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
		d.SSL = cfg.Port == 465
		m.dialer = d
	}
	return m
}

// SendPasswordReset emails the reset link for token
func (m *Mailer) SendPasswordReset(ctx context.Context, to, username, token string) error {
	_, span := util.StartSpan(ctx, "Mailer.SendPasswordReset")
	defer span.End()

	link := fmt.Sprintf("%s/%s", m.cfg.ResetURL, token)
	if m.dialer == nil {
		m.logger.Warn("SMTP not configured, password reset link not emailed",
			zap.String("email", to),
			zap.String("reset_url", link))
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Password reset")
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hi %s,\n\nSomeone asked to reset the password for your account. "+
			"Open the link below within 15 minutes to choose a new one:\n\n%s\n\n"+
			"If this was not you, ignore this email.\n", username, link))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	m.logger.Info("Password reset email sent", zap.String("email", to))
	return nil
}
