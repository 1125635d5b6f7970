package send

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/mua-"
)

// SMTP delivers messages to the submission server of the SMTPURL.
type SMTP struct {
	Config *mua.Config

	// For connections with TLS, a config for the host name of the server is
	// used if nil.
	TLSConfig *tls.Config
}

func (s *SMTP) Name() string {
	return "smtp"
}

// WritesBcc returns false: SMTP servers do not remove a Bcc header.
func (s *SMTP) WritesBcc() bool {
	return false
}

type smtpTarget struct {
	TLS      bool // Immediate TLS, smtps.
	Host     string
	Addr     string
	User     string
	Password string
}

func parseSMTPURL(c *mua.Config) (smtpTarget, error) {
	static := c.Static
	u, err := url.Parse(static.SMTPURL)
	if err != nil {
		return smtpTarget{}, fmt.Errorf("%w: smtp url: %v", ErrSyntax, err)
	}
	var t smtpTarget
	port := "25"
	switch strings.ToLower(u.Scheme) {
	case "smtp":
	case "smtps":
		t.TLS = true
		port = "465"
	default:
		return smtpTarget{}, fmt.Errorf("%w: smtp url: unknown scheme %q", ErrSyntax, u.Scheme)
	}
	t.Host = u.Hostname()
	if t.Host == "" {
		return smtpTarget{}, fmt.Errorf("%w: smtp url: missing host", ErrSyntax)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	t.Addr = net.JoinHostPort(t.Host, port)
	t.User = static.SMTPUser
	t.Password = static.SMTPPassword
	if u.User != nil {
		t.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			t.Password = pw
		}
	}
	return t, nil
}

// smtpError turns errors from the server into an MTAError.
func smtpError(err error) error {
	var serr *smtp.SMTPError
	if errors.As(err, &serr) {
		return &MTAError{Transport: "smtp", Code: serr.Code, Output: serr.Message}
	}
	return err
}

// Deliver connects to the server, authenticates if a user name is
// configured, and submits the message.
func (s *SMTP) Deliver(ctx context.Context, d Delivery) (rstatus Status, rerr error) {
	log := pkglog.WithContext(ctx)
	t, err := parseSMTPURL(s.Config)
	if err != nil {
		return 0, err
	}
	tlsConfig := s.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: t.Host}
	}

	log.Debug("connecting to smtp server", slog.String("addr", t.Addr), slog.Bool("tls", t.TLS))
	var client *smtp.Client
	if t.TLS {
		client, err = smtp.DialTLS(t.Addr, tlsConfig)
	} else {
		client, err = smtp.Dial(t.Addr)
	}
	if err != nil {
		return 0, fmt.Errorf("smtp: connecting to %s: %w", t.Addr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		client.Close()
	})
	defer func() {
		stop()
		err := client.Close()
		log.Check(err, "closing smtp connection")
		if rerr != nil && ctx.Err() != nil {
			rerr = ctx.Err()
		}
	}()

	if err := client.Hello(s.Config.Hostname()); err != nil {
		return 0, smtpError(err)
	}
	if !t.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return 0, fmt.Errorf("smtp: starttls: %w", smtpError(err))
			}
		}
	}
	if t.User != "" {
		if err := s.auth(ctx, client, t); err != nil {
			return 0, err
		}
	}

	from := envelopeFrom(s.Config, d.From)
	static := s.Config.Static
	mailOpts := &smtp.MailOptions{}
	if d.EightBit {
		if ok, _ := client.Extension("8BITMIME"); ok {
			mailOpts.Body = smtp.Body8BitMIME
		}
	}
	var rcptOpts *smtp.RcptOptions
	if ok, _ := client.Extension("DSN"); ok {
		if static.DSNReturn != "" {
			mailOpts.Return = smtp.DSNReturn(strings.ToUpper(static.DSNReturn))
		}
		if static.DSNNotify != "" {
			rcptOpts = &smtp.RcptOptions{}
			for _, n := range strings.Split(static.DSNNotify, ",") {
				rcptOpts.Notify = append(rcptOpts.Notify, smtp.DSNNotify(strings.ToUpper(strings.TrimSpace(n))))
			}
		}
	}
	if err := client.Mail(from, mailOpts); err != nil {
		return 0, smtpError(err)
	}
	for _, rcpt := range d.recipients() {
		if err := client.Rcpt(rcpt, rcptOpts); err != nil {
			return 0, smtpError(err)
		}
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return 0, fmt.Errorf("opening message: %w", err)
	}
	defer func() {
		err := f.Close()
		log.Check(err, "closing message file")
	}()
	w, err := client.Data()
	if err != nil {
		return 0, smtpError(err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return 0, fmt.Errorf("smtp: writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, smtpError(err)
	}
	if err := client.Quit(); err != nil {
		log.Debugx("smtp quit", err)
	}
	return StatusSent, nil
}

// auth authenticates with the first of the configured mechanisms that the
// server supports.
func (s *SMTP) auth(ctx context.Context, client *smtp.Client, t smtpTarget) error {
	mechs := s.Config.Static.SMTPAuthenticators
	if len(mechs) == 0 {
		mechs = []string{"PLAIN", "LOGIN"}
	}
	for _, mech := range mechs {
		mech = strings.ToUpper(mech)
		if !client.SupportsAuth(mech) {
			continue
		}
		var sc sasl.Client
		switch mech {
		case "PLAIN":
			sc = sasl.NewPlainClient("", t.User, t.Password)
		case "LOGIN":
			sc = sasl.NewLoginClient(t.User, t.Password)
		default:
			pkglog.WithContext(ctx).Debug("skipping unsupported authentication mechanism", slog.String("mechanism", mech))
			continue
		}
		err := client.Auth(sc)
		result := "ok"
		var serr *smtp.SMTPError
		if errors.As(err, &serr) && serr.Code == 535 {
			result = "badcreds"
		} else if err != nil {
			result = "error"
		}
		metrics.SMTPAuthInc(strings.ToLower(mech), result)
		if err != nil {
			return fmt.Errorf("smtp: authentication with %s: %w", mech, smtpError(err))
		}
		return nil
	}
	metrics.SMTPAuthInc("none", "error")
	return fmt.Errorf("smtp: no supported authentication mechanism")
}
