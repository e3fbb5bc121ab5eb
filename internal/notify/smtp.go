package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// SMTPConfig configures the email notifier
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration

	// TLSConfig is the base of the STARTTLS configuration; ServerName
	// defaults to the host of Addr
	TLSConfig *tls.Config
}

// SMTPNotifier emails notifications to owners with a known address
type SMTPNotifier struct {
	cfg      SMTPConfig
	hostname string
}

// NewSMTPNotifier creates an SMTP notifier
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPNotifier{cfg: cfg, hostname: "localhost"}
}

func (n *SMTPNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	if to.Email == "" {
		return nil
	}

	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.cfg.Addr)
	if err != nil {
		return fmt.Errorf("connection failed to %s: %w", n.cfg.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(n.cfg.Timeout))
	}

	var c *smtp.Client
	if n.cfg.StartTLS {
		// NewClientStartTLS greets with EHLO and upgrades before returning
		c, err = smtp.NewClientStartTLS(conn, n.tlsConfig())
		if err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	} else {
		c = smtp.NewClient(conn)
		if err := c.Hello(n.hostname); err != nil {
			c.Close()
			return fmt.Errorf("HELO failed: %w", err)
		}
	}
	defer c.Close()

	if n.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	if err := c.Mail(n.cfg.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(to.Email, nil); err != nil {
		return fmt.Errorf("RCPT TO %s failed: %w", to.Email, err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := wc.Write(buildMessage(n.cfg.From, to.Email, msg)); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("DATA close failed: %w", err)
	}

	return c.Quit()
}

func (n *SMTPNotifier) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if n.cfg.TLSConfig != nil {
		cfg = n.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _, _ = net.SplitHostPort(n.cfg.Addr)
	}
	return cfg
}

func buildMessage(from, to string, msg Message) []byte {
	subject := msg.Subject
	if subject == "" {
		subject = "dealpost notification"
	}
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at > 0 {
			domain = addr.Address[at+1:]
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Text, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
