package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/submission"
	apperrors "formgate/pkg/errors"
)

type SMTPSender struct {
	host         string
	addr         string
	username     string
	password     string
	envelopeFrom string
	timeout      time.Duration
	tlsConfig    *tls.Config
}

func NewSMTPSender(cfg config.DeliveryConfig) *SMTPSender {
	port := cfg.SMTP.Port
	if port == 0 {
		port = 25
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &SMTPSender{
		host:         cfg.SMTP.Host,
		addr:         net.JoinHostPort(cfg.SMTP.Host, strconv.Itoa(port)),
		username:     cfg.SMTP.Username,
		password:     cfg.SMTP.Password,
		envelopeFrom: cfg.SenderAddress,
		timeout:      timeout,
		tlsConfig:    &tls.Config{ServerName: cfg.SMTP.Host, MinVersion: tls.VersionTLS12},
	}
}

// Send relays msg through the configured server. The envelope sender is the
// configured sender address; the From header keeps the submitter's address.
func (s *SMTPSender) Send(ctx context.Context, msg submission.Message) (err error) {
	start := time.Now()
	defer func() { observeDelivery(constants.DeliveryTypeSMTP, start, err) }()

	envelopeFrom := s.envelopeFrom
	if envelopeFrom == "" {
		envelopeFrom = msg.From
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return apperrors.ErrDeliveryFailed.WithCause(fmt.Errorf("smtp connect to %s: %w", s.addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return classifySMTPError("smtp greeting", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return classifySMTPError("STARTTLS", err)
		}
	}
	if s.username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return classifySMTPError("AUTH", err)
		}
	}

	if err := c.Mail(envelopeFrom); err != nil {
		return classifySMTPError("MAIL FROM", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return classifySMTPError("RCPT TO", err)
	}

	w, err := c.Data()
	if err != nil {
		return classifySMTPError("DATA", err)
	}
	if _, err := w.Write(buildMIME(msg, time.Now())); err != nil {
		return classifySMTPError("write", err)
	}
	if err := w.Close(); err != nil {
		return classifySMTPError("DATA close", err)
	}
	return c.Quit()
}

// classifySMTPError marks 5xx replies as permanent rejections.
func classifySMTPError(stage string, err error) error {
	wrapped := fmt.Errorf("%s: %w", stage, err)

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return apperrors.ErrDeliveryRejected.WithCause(wrapped)
	}
	return apperrors.ErrDeliveryFailed.WithCause(wrapped)
}

// buildMIME renders a plain-text RFC 5322 message with CRLF line endings.
func buildMIME(msg submission.Message, now time.Time) []byte {
	var b bytes.Buffer

	fromName := mime.QEncoding.Encode("utf-8", msg.FromName)
	headers := []string{
		"Date: " + now.Format(time.RFC1123Z),
		"Message-ID: <" + msg.ID + "@formgate>",
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
	}
	for _, h := range msg.Headers() {
		if strings.HasPrefix(h, "From: ") {
			h = "From: " + fromName + " <" + msg.From + ">"
		}
		headers = append(headers, h)
	}
	headers = append(headers, "Content-Transfer-Encoding: 8bit")

	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
