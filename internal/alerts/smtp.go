package alerts

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/tenderflow/docpipe/internal/common"
)

// SMTPNotifier sends alerts as plain-text email.
type SMTPNotifier struct {
	addr string
	from string
	auth smtp.Auth
	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg common.AlertsConfig) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		host := cfg.SMTPAddr
		if h, _, err := net.SplitHostPort(cfg.SMTPAddr); err == nil {
			host = h
		}
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
	}
	return &SMTPNotifier{
		addr: cfg.SMTPAddr,
		from: cfg.SMTPFrom,
		auth: auth,
		send: smtp.SendMail,
	}
}

func (n *SMTPNotifier) Channel() string { return "email" }

func (n *SMTPNotifier) Send(ctx context.Context, alert Alert) error {
	if n.addr == "" {
		return fmt.Errorf("smtp transport not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", alert.Recipient)
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", strings.ToUpper(alert.Urgency), alert.Subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(alert.Body)

	if err := n.send(n.addr, n.auth, n.from, []string{alert.Recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}
