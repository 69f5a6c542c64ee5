package email

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

var ErrNotConfigured = errors.New("smtp not configured")

// SendText sends a plain-text message. Returns ErrNotConfigured when no
// SMTP host is set, so dev environments degrade to a no-op the caller can
// log and ignore.
func SendText(cfg SMTPConfig, to, subject, body string) error {
	if cfg.Host == "" {
		return ErrNotConfigured
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	return smtp.SendMail(addr, auth, from, []string{to}, []byte(msg))
}
