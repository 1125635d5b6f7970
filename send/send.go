// Package send composes replies and forwards, delivers messages with
// sendmail or over SMTP, saves copies to fcc mailboxes, bounces messages and
// postpones and recalls drafts.
package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/flowed"
	"github.com/muacore/mua/handler"
	"github.com/muacore/mua/hook"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/pattern"
	"github.com/muacore/mua/sendlib"
)

var pkglog = mlog.New("send", nil)

var (
	ErrNoRecipients   = errors.New("send: no recipients")
	ErrNoLists        = errors.New("send: no mailing lists found")
	ErrUnmodified     = errors.New("send: message not modified, aborted")
	ErrAddress        = errors.New("send: bad address")
	ErrMTA            = errors.New("send: delivery failed")
	ErrPostponedUnset = errors.New("send: no mailbox configured for postponed messages")
	ErrNoPostponed    = errors.New("send: no postponed messages")
	ErrSyntax         = errors.New("send: syntax error")
)

// MTAError is returned when the mail transport did not accept the message.
// It matches ErrMTA with errors.Is.
type MTAError struct {
	Transport string
	Code      int    // Exit status of sendmail, or SMTP reply code.
	Output    string // Output of sendmail, or the SMTP reply.
	Err       error
}

func (e *MTAError) Error() string {
	s := fmt.Sprintf("%s: %s (%d)", ErrMTA, e.Transport, e.Code)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Output != "" {
		s += ": " + e.Output
	}
	return s
}

func (e *MTAError) Is(target error) bool {
	return target == ErrMTA
}

func (e *MTAError) Unwrap() error {
	return e.Err
}

// Temporary returns whether delivery may succeed later.
func (e *MTAError) Temporary() bool {
	if e.Transport == "smtp" {
		return e.Code/100 == 4
	}
	// EX_TEMPFAIL from sysexits.h.
	return e.Code == 75
}

// Flags describe the kind of message being sent.
type Flags uint32

const (
	Reply        Flags = 1 << iota // Reply to the author.
	GroupReply                     // Reply to the author and all recipients.
	ListReply                      // Reply to the mailing lists of the message.
	ToSender                       // New message to the author, without quoting.
	Forward                        // Forward messages.
	Resend                         // Send a draft or template as is, e.g. a recalled message.
	Postponed                      // Message is a recalled postponed draft.
	PostponedFcc                   // Recalled draft had an fcc.
	Batch                          // No editor.
	GroupChatReply                 // Like GroupReply, but all recipients in To.

	replyFlags = Reply | GroupReply | ListReply | GroupChatReply
)

// Status is the outcome of a send that did not fail.
type Status int

const (
	StatusSent       Status = iota
	StatusBackground        // Delivery continues in the background.
)

func (s Status) String() string {
	if s == StatusBackground {
		return "background"
	}
	return "sent"
}

// Editor edits the file with the body of a composed message.
type Editor func(ctx context.Context, path string) error

// Protector signs and encrypts a composed message, replacing its body. It
// is required for messages with encryption or signing requested.
type Protector interface {
	Protect(ctx context.Context, e *email.Email, postpone bool) error
}

// Sender composes and delivers messages.
type Sender struct {
	Config *mua.Config

	// Optional, for send, send2, reply and fcc hooks.
	Hooks *hook.Registry
	// Optional, headers set with my_hdr. Without, headers from MyHeaders of
	// the configuration are used.
	Headers *UserHeaders
	// Optional, a transport made from the configuration is used without.
	Transport Transport
	// Optional, messages are not edited without.
	Editor    Editor
	Protector Protector

	// Mailbox of the messages replied to, and its file.
	Mailbox *mailbox.Mailbox
	In      *os.File

	Now func() time.Time
}

// NewSender returns a Sender with the transport and headers of c.
func NewSender(c *mua.Config, hooks *hook.Registry) (*Sender, error) {
	h, err := LoadUserHeaders(c)
	if err != nil {
		return nil, err
	}
	return &Sender{Config: c, Hooks: hooks, Headers: h}, nil
}

func (s *Sender) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sender) matcher() *pattern.Matcher {
	m := &pattern.Matcher{Config: s.Config, Mailbox: s.Mailbox, Now: s.Now}
	if s.In != nil {
		m.In = s.In
	}
	return m
}

func (s *Sender) transport() Transport {
	if s.Transport != nil {
		return s.Transport
	}
	return NewTransport(s.Config)
}

func (s *Sender) headers() *UserHeaders {
	if s.Headers == nil {
		h, err := LoadUserHeaders(s.Config)
		if err != nil {
			pkglog.Errorx("loading user headers", err)
			h = &UserHeaders{}
		}
		s.Headers = h
	}
	return s.Headers
}

func (s *Sender) messageHook(ctx context.Context, e *email.Email, typ hook.Type) error {
	if s.Hooks == nil {
		return nil
	}
	return s.Hooks.MessageHook(ctx, s.matcher(), e, typ)
}

// Send completes the envelope of e, lets the user edit the body, and
// delivers the message. The messages in cur are the messages replied to or
// forwarded. An empty fcc selects the fcc mailbox with the hooks and
// configuration.
func (s *Sender) Send(ctx context.Context, flags Flags, e *email.Email, cur []*email.Email, fcc string) (Status, error) {
	log := pkglog.WithContext(ctx)
	c := s.Config
	if e.Env == nil {
		e.Env = email.NewEnvelope()
	}
	env := e.Env
	fresh := flags&(Postponed|Resend) == 0

	if fresh {
		if flags&replyFlags != 0 {
			for _, o := range cur {
				if err := s.messageHook(ctx, o, hook.Reply); err != nil {
					return 0, fmt.Errorf("reply hook: %w", err)
				}
			}
		}
		s.headers().ApplyRecips(env)
		if err := EnvelopeDefaults(c, env, cur, flags); err != nil {
			return 0, err
		}
		if flags&replyFlags != 0 {
			FixReplyRecipients(c, env)
		}
		if err := s.messageHook(ctx, e, hook.Send); err != nil {
			return 0, fmt.Errorf("send hook: %w", err)
		}
		s.headers().Apply(env)
		if len(env.From) == 0 {
			if from := c.From(); from != nil {
				env.From = address.List{from}
			}
		}
		if c.Static.TextFlowed && e.Body != nil && e.Body.Type == mime.TypeText && e.Body.Subtype == "plain" {
			e.Body.Params.Set("format", "flowed")
		}
	}

	if err := s.messageHook(ctx, e, hook.Send2); err != nil {
		return 0, fmt.Errorf("send2 hook: %w", err)
	}

	if flags&Batch == 0 && s.Editor != nil && e.Body != nil && e.Body.Filename != "" {
		if err := s.edit(ctx, flags, e); err != nil {
			return 0, err
		}
	}

	for _, l := range []address.List{env.To, env.Cc, env.Bcc} {
		l.Qualify(c.Hostname())
	}
	if env.To.CountRecips()+env.Cc.CountRecips()+env.Bcc.CountRecips() == 0 {
		return 0, ErrNoRecipients
	}
	if failed := env.ToIntl(); len(failed) > 0 {
		env.ToLocal()
		return 0, fmt.Errorf("%w: %s", ErrAddress, failed[0])
	}

	if fcc == "" && flags&PostponedFcc == 0 {
		if s.Hooks != nil {
			fcc = s.Hooks.SelectFcc(ctx, s.matcher(), e)
		} else {
			fcc = c.ExpandMailbox(c.Static.Record)
		}
	}

	if err := s.prepareBody(ctx, e); err != nil {
		return 0, err
	}
	if c.Static.TextFlowed {
		if err := flowed.StuffEmail(e); err != nil {
			return 0, fmt.Errorf("space-stuffing body: %w", err)
		}
	}

	clearBody := e.Body
	if e.Security&(email.SecEncrypt|email.SecSign) != 0 {
		if s.Protector == nil {
			return 0, fmt.Errorf("%w: no crypto provider for signing or encrypting", handler.ErrCrypto)
		}
		if err := s.Protector.Protect(ctx, e, false); err != nil {
			return 0, err
		}
	}
	fccBody := e.Body
	if c.Static.FccClear {
		fccBody = clearBody
	}

	PrepareEnvelope(c, env, true, s.now())
	EncodeDescriptions(c, e.Body, fccBody)

	if fcc != "" && c.Static.FccBeforeSend {
		if err := s.saveFcc(ctx, fcc, e, fccBody); err != nil {
			UnprepareEnvelope(c, env)
			DecodeDescriptions(c, e.Body, fccBody)
			return 0, err
		}
	}

	status, err := s.deliver(ctx, e)
	if err != nil {
		UnprepareEnvelope(c, env)
		DecodeDescriptions(c, e.Body, fccBody)
		if c.Static.TextFlowed {
			log.Check(flowed.UnstuffEmail(e), "unstuffing body after failed send")
		}
		return 0, err
	}
	log.Info("message sent", slog.String("messageid", env.MessageID), slog.Any("status", status))

	if fcc != "" && !c.Static.FccBeforeSend {
		if err := s.saveFcc(ctx, fcc, e, fccBody); err != nil {
			log.Errorx("saving copy of sent message", err, slog.String("fcc", fcc))
		}
	}

	if flags&replyFlags != 0 {
		for _, o := range cur {
			o.SetFlag(email.FlagReplied, true)
		}
	}
	return status, nil
}

// edit runs the editor on the body file and returns ErrUnmodified if the
// file was not changed and unmodified messages are aborted.
func (s *Sender) edit(ctx context.Context, flags Flags, e *email.Email) error {
	path := e.Body.Filename
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat message body: %w", err)
	}
	before := fi.ModTime()
	// Changes within the same second must be noticed.
	if time.Since(before) < time.Second {
		before = before.Add(-time.Second)
		if err := os.Chtimes(path, before, before); err != nil {
			return fmt.Errorf("setting mtime of message body: %w", err)
		}
	}

	if err := s.Editor(ctx, path); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	fi, err = os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat message body: %w", err)
	}
	if err := s.messageHook(ctx, e, hook.Send2); err != nil {
		return fmt.Errorf("send2 hook: %w", err)
	}
	if fi.ModTime().Equal(before) && flags&(Postponed|Forward|Resend) == 0 && e.Body.Next == nil && s.Config.Static.AbortUnmodified != "no" {
		return ErrUnmodified
	}
	return nil
}

// prepareBody wraps multiple parts in a multipart/mixed and determines the
// charsets and transfer encodings of the parts.
func (s *Sender) prepareBody(ctx context.Context, e *email.Email) error {
	if e.Body == nil {
		return fmt.Errorf("%w: message without body", sendlib.ErrContent)
	}
	if e.Body.Next != nil {
		e.Body = makeMultipart(e.Body)
	}
	var err error
	e.Body.Walk(func(b *email.Body) bool {
		if err != nil {
			return false
		}
		if b.Type == mime.TypeMultipart {
			if b.Params.Value("boundary") == "" {
				sendlib.GenerateBoundary(&b.Params)
			}
			return true
		}
		if b.Filename != "" {
			err = sendlib.UpdateEncoding(ctx, s.Config, b)
		}
		return true
	})
	return err
}

func makeMultipart(parts *email.Body) *email.Body {
	b := email.NewBody()
	b.Type = mime.TypeMultipart
	b.Subtype = "mixed"
	b.Disposition = mime.DispInline
	b.UseDisp = false
	sendlib.GenerateBoundary(&b.Params)
	b.Parts = parts
	return b
}

// deliver writes the message to a temporary file and hands it to the
// transport.
func (s *Sender) deliver(ctx context.Context, e *email.Email) (Status, error) {
	log := pkglog.WithContext(ctx)
	tr := s.transport()

	env := e.Env
	if !tr.WritesBcc() {
		env = env.Copy()
		env.Bcc = nil
	}
	path, eightbit, err := s.writeTemp(ctx, "send", func(f *os.File) error {
		if err := sendlib.WriteHeader(s.Config, f, env, e.Body, sendlib.HeaderOpts{Mode: sendlib.ModeNormal, Now: s.now()}); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
		return sendlib.WriteMimeBody(ctx, s.Config, f, e.Body)
	}, e.Body)
	if err != nil {
		return 0, err
	}
	defer func() {
		err := os.Remove(path)
		log.Check(err, "removing temporary message file", slog.String("path", path))
	}()

	d := Delivery{
		From:     e.Env.From,
		To:       e.Env.To,
		Cc:       e.Env.Cc,
		Bcc:      e.Env.Bcc,
		Path:     path,
		EightBit: eightbit,
	}
	status, err := tr.Deliver(ctx, d)
	metrics.SendInc(tr.Name(), sendResult(err))
	return status, err
}

// writeTemp writes a temporary file with fn, returning its path and whether
// the parts of b have 8-bit content.
func (s *Sender) writeTemp(ctx context.Context, prefix string, fn func(f *os.File) error, b *email.Body) (string, bool, error) {
	f, err := os.CreateTemp(s.Config.Static.Tmpdir, "mua-"+prefix+"-*")
	if err != nil {
		return "", false, fmt.Errorf("creating temporary file: %w", err)
	}
	path := f.Name()
	err = fn(f)
	if xerr := f.Close(); err == nil {
		err = xerr
	}
	if err != nil {
		xerr := os.Remove(path)
		pkglog.WithContext(ctx).Check(xerr, "removing temporary file")
		return "", false, fmt.Errorf("writing message: %w", err)
	}
	return path, hasEightBit(b), nil
}

func hasEightBit(b *email.Body) bool {
	var r bool
	if b == nil {
		return false
	}
	b.Walk(func(p *email.Body) bool {
		if p.Encoding == mime.Enc8bit {
			r = true
		}
		return !r
	})
	return r
}

func sendResult(err error) string {
	var mtaErr *MTAError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &mtaErr) && mtaErr.Temporary():
		return "tempfail"
	case errors.As(err, &mtaErr):
		return "mtaerror"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
