package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/aljonuschka/reservd/config"
)

// Sender delivers rendered notifications over SMTP. Port 465 means
// implicit TLS, anything else STARTTLS.
type Sender struct {
	conf config.SMTP
}

func NewSender(conf config.SMTP) *Sender {
	return &Sender{conf: conf}
}

func (s *Sender) Send(to, subject, htmlBody string) error {
	msg := buildMessage(s.conf.From, to, subject, htmlBody)
	addr := fmt.Sprintf("%s:%d", s.conf.Server, s.conf.Port)

	client, err := s.connect(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.conf.Username, s.conf.Password, s.conf.Server)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	if err := client.Mail(s.conf.From); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}

func (s *Sender) connect(addr string) (*smtp.Client, error) {
	tlsConfig := &tls.Config{ServerName: s.conf.Server}

	if s.conf.Port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("TLS dial to %s: %w", addr, err)
		}
		client, err := smtp.NewClient(conn, s.conf.Server)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("creating SMTP client: %w", err)
		}
		return client, nil
	}

	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.conf.Server)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating SMTP client: %w", err)
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, fmt.Errorf("SMTP STARTTLS: %w", err)
	}
	return client, nil
}

func buildMessage(from, to, subject, htmlBody string) string {
	return strings.Join([]string{
		fmt.Sprintf("From: \"Aljonuschka Restaurant\" <%s>", from),
		"To: " + to,
		"Subject: " + subject,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		htmlBody,
	}, "\r\n")
}
