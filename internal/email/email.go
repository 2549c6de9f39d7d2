package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/logger"
)

// Sender delivers account mail over SMTP. Without a host it only logs what it
// would have sent.
type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSender(host, port, username, password, from string) *Sender {
	return &Sender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		sendMail: smtp.SendMail,
	}
}

// NewSenderFromConfig builds a Sender from the SMTP_* settings.
func NewSenderFromConfig(cfg *config.Config) *Sender {
	return NewSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
}

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.6; color: #333;">
    <p>Hi {{.Username}},</p>
    <p>Someone asked to reset the password of your swapshelf account. If it was you, follow the link below within the next few hours.</p>
    <p><a href="{{.Link}}">{{.Link}}</a></p>
    <p>If you did not ask for this, you can ignore this email and your password stays the same.</p>
</body>
</html>
`))

// SendPasswordReset mails link to the account owner.
func (s *Sender) SendPasswordReset(ctx context.Context, to, username, link string) error {
	var body bytes.Buffer
	if err := resetTemplate.Execute(&body, map[string]string{"Username": username, "Link": link}); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	subject := "Reset your swapshelf password"

	if s.Host == "" {
		logger.Info("smtp not configured, password reset link not mailed",
			"to", to, "subject", subject, "link", link)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Fixed header order keeps messages reproducible.
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := s.Host + ":" + s.Port

	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, s.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send password reset to %s: %w", to, err)
	}
	logger.Info("password reset mailed", "to", to)
	return nil
}
