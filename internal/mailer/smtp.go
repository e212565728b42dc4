package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailtide/mailtide/internal/models"
)

// SMTPSender delivers through a tenant-configured SMTP relay. Each Send
// dials its own connection, so one sender may be shared by a job's whole
// worker pool.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	dkim     *DKIMSigner
	logger   *slog.Logger
}

func NewSMTPSender(creds *models.Credentials, dkim *DKIMSigner, logger *slog.Logger) *SMTPSender {
	port := creds.Port
	if port == 0 {
		port = 587
	}
	return &SMTPSender{
		host:     creds.Host,
		port:     port,
		username: creds.Username,
		password: creds.Password,
		dkim:     dkim,
		logger:   logger,
	}
}

// Send builds the MIME message, optionally DKIM-signs it, and submits it
// to the relay. The generated Message-ID serves as the provider message
// identifier for SMTP tenants.
func (s *SMTPSender) Send(ctx context.Context, params *SendParams) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, msgID, err := buildMIME(params, s.host)
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}

	if s.dkim != nil {
		signed, err := s.dkim.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned", "domain", s.dkim.Domain(), "error", err)
		} else {
			data = signed
		}
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	if s.port == 465 {
		err = smtp.SendMailTLS(addr, auth, params.From, []string{params.To}, bytes.NewReader(data))
	} else {
		err = smtp.SendMail(addr, auth, params.From, []string{params.To}, bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("smtp submit to %s: %w", addr, err)
	}

	return &SendResult{ProviderMessageID: msgID}, nil
}
