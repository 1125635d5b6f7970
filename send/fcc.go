package send

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/sendlib"
)

// saveFcc saves a copy of e with body b to each mailbox in the comma
// separated fcc.
func (s *Sender) saveFcc(ctx context.Context, fcc string, e *email.Email, b *email.Body) error {
	var errs []error
	for _, p := range strings.Split(fcc, ",") {
		p = strings.TrimSpace(p)
		if p == "" || p == "/dev/null" {
			continue
		}
		path := s.Config.ExpandMailbox(p)
		if err := WriteFcc(ctx, s.Config, path, e, b, nil, s.now()); err != nil {
			errs = append(errs, fmt.Errorf("fcc %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// WriteFcc appends e with body b to the mailbox at path. With postpone set,
// the message is saved as a draft with the information for recalling it.
func WriteFcc(ctx context.Context, c *mua.Config, path string, e *email.Email, b *email.Body, postpone *sendlib.PostponeInfo, now time.Time) (rerr error) {
	log := pkglog.WithContext(ctx)

	post := postpone != nil
	if post {
		// Drafts are saved as composed, charsets are converted when sent.
		b.Walk(func(p *email.Body) bool {
			p.NoConv = true
			return true
		})
	}

	var body bytes.Buffer
	if err := sendlib.WriteMimeBody(ctx, c, &body, b); err != nil {
		return err
	}
	if body.Len() > 0 && !bytes.HasSuffix(body.Bytes(), []byte("\n")) {
		body.WriteByte('\n')
	}

	var msg bytes.Buffer
	opts := sendlib.HeaderOpts{Mode: sendlib.ModeFcc, Now: now}
	if post {
		opts.Mode = sendlib.ModePostpone
		opts.Postpone = postpone
	}
	if err := sendlib.WriteHeader(c, &msg, e.Env, b, opts); err != nil {
		return err
	}
	fmt.Fprintf(&msg, "Status: RO\nContent-Length: %d\nLines: %d\n\n", body.Len(), bytes.Count(body.Bytes(), []byte("\n")))
	msg.Write(body.Bytes())

	m, store, err := mailbox.Open(ctx, c, path, mailbox.OpenAppend, nil)
	if err != nil {
		return err
	}
	defer func() {
		err := store.Close(m)
		if rerr == nil && err != nil {
			rerr = err
		}
	}()

	// The copy is written with "Status: RO", drafts included.
	e.Read = true
	e.Old = true
	if e.Received == 0 {
		e.Received = now.Unix()
	}
	if err := store.AppendMessage(ctx, c, m, e, &msg); err != nil {
		return err
	}
	log.Debug("saved copy of message", slog.String("mailbox", path), slog.Bool("postponed", post))
	return nil
}

// PGPFlags returns the value of the Mutt-PGP header for a draft with
// security sec.
func PGPFlags(sec email.Security) string {
	var b strings.Builder
	if sec&email.SecEncrypt != 0 {
		b.WriteByte('E')
	}
	if sec&email.SecOppEncrypt != 0 {
		b.WriteByte('O')
	}
	if sec&email.SecSign != 0 {
		b.WriteByte('S')
	}
	if sec&email.SecInline != 0 {
		b.WriteByte('I')
	}
	if sec&email.SecAutocrypt != 0 {
		b.WriteByte('A')
	}
	return b.String()
}

// SMIMEFlags returns the value of the Mutt-SMIME header for a draft with
// security sec.
func SMIMEFlags(sec email.Security) string {
	var b strings.Builder
	if sec&email.SecEncrypt != 0 {
		b.WriteByte('E')
	}
	if sec&email.SecOppEncrypt != 0 {
		b.WriteByte('O')
	}
	if sec&email.SecSign != 0 {
		b.WriteByte('S')
	}
	if sec&email.SecInline != 0 {
		b.WriteByte('I')
	}
	return b.String()
}

// ParseCryptFlags returns the security of a Mutt-PGP or Mutt-SMIME header
// value for application app. Key identifiers in angle brackets and cipher
// selections like C<aes256> are skipped.
func ParseCryptFlags(s string, app email.Security) (email.Security, error) {
	sec := app
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'E', 'e':
			sec |= email.SecEncrypt
		case 'O', 'o':
			sec |= email.SecOppEncrypt
		case 'S', 's':
			sec |= email.SecSign
		case 'I', 'i':
			sec |= email.SecInline
		case 'A', 'a':
			if app != email.AppPGP {
				return 0, fmt.Errorf("%w: autocrypt flag for s/mime: %q", ErrSyntax, s)
			}
			sec |= email.SecAutocrypt
		case 'Z', 'z':
			// Autocrypt override.
		case 'C', 'c':
			if i+1 < len(s) && s[i+1] != '<' {
				return 0, fmt.Errorf("%w: cipher without angle brackets: %q", ErrSyntax, s)
			}
		case '<':
			j := strings.IndexByte(s[i:], '>')
			if j < 0 {
				return 0, fmt.Errorf("%w: unterminated key id: %q", ErrSyntax, s)
			}
			i += j
		case ' ', '\t':
		default:
			return 0, fmt.Errorf("%w: unknown crypt flag %q", ErrSyntax, s[i])
		}
	}
	return sec, nil
}
