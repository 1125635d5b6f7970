package send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/flowed"
	"github.com/muacore/mua/handler"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
	"github.com/muacore/mua/sendlib"
)

var ErrSelect = errors.New("send: multiple postponed messages, select one")

func postponedPath(c *mua.Config) (string, error) {
	path := c.ExpandMailbox(c.Static.Postponed)
	if path == "" {
		return "", ErrPostponedUnset
	}
	return path, nil
}

// Postpone saves e as a draft in the postponed mailbox. The Message-ID of
// replyTo, the message being replied to, and fcc are saved with the draft
// and restored by Recall.
func (s *Sender) Postpone(ctx context.Context, e *email.Email, replyTo *email.Email, fcc string) error {
	c := s.Config
	path, err := postponedPath(c)
	if err != nil {
		return err
	}
	if e.Env == nil {
		e.Env = email.NewEnvelope()
	}
	if err := s.prepareBody(ctx, e); err != nil {
		return err
	}

	if c.Static.PostponeEncrypt && e.Security&(email.SecEncrypt|email.SecAutocrypt) != 0 {
		if s.Protector == nil {
			return fmt.Errorf("%w: no crypto provider for encrypting postponed message", handler.ErrCrypto)
		}
		if err := s.Protector.Protect(ctx, e, true); err != nil {
			return err
		}
	}

	now := s.now()
	PrepareEnvelope(c, e.Env, false, now)
	if failed := e.Env.ToIntl(); len(failed) > 0 {
		UnprepareEnvelope(c, e.Env)
		return fmt.Errorf("%w: %s", ErrAddress, failed[0])
	}
	EncodeDescriptions(c, e.Body)

	info := &sendlib.PostponeInfo{Fcc: fcc}
	if replyTo != nil && replyTo.Env != nil {
		info.InReplyTo = replyTo.Env.MessageID
	}
	if e.Security&email.AppPGP != 0 {
		info.PGP = PGPFlags(e.Security)
	}
	if e.Security&email.AppSMIME != 0 {
		info.SMIME = SMIMEFlags(e.Security)
	}
	if err := WriteFcc(ctx, c, path, e, e.Body, info, now); err != nil {
		UnprepareEnvelope(c, e.Env)
		DecodeDescriptions(c, e.Body)
		return err
	}
	pkglog.WithContext(ctx).Info("message postponed", slog.String("mailbox", path))
	return nil
}

// ListPostponed returns the postponed messages.
func ListPostponed(ctx context.Context, c *mua.Config) ([]*email.Email, error) {
	path, err := postponedPath(c)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	m, store, err := mailbox.Open(ctx, c, path, mailbox.OpenReadOnly|mailbox.OpenPeek, nil)
	if err != nil {
		return nil, err
	}
	err = store.Close(m)
	pkglog.WithContext(ctx).Check(err, "closing postponed mailbox")
	return m.Emails, nil
}

// Recalled is a draft taken from the postponed mailbox.
type Recalled struct {
	Email *email.Email
	// Postponed, with Reply if the message replied to was found and
	// PostponedFcc if an fcc was saved.
	Flags   Flags
	Fcc     string
	ReplyTo *email.Email // In the current mailbox.
}

// Recall removes the postponed message at index from the postponed mailbox
// and returns it as a draft. A negative index selects the only message. The
// message replied to is looked up in cur, which may be nil.
func (s *Sender) Recall(ctx context.Context, cur *mailbox.Mailbox, index int) (rr *Recalled, rerr error) {
	log := pkglog.WithContext(ctx)
	c := s.Config
	path, err := postponedPath(c)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoPostponed
	}
	m, store, err := mailbox.Open(ctx, c, path, 0, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		err := store.Close(m)
		log.Check(err, "closing postponed mailbox")
	}()
	if m.ReadOnly {
		return nil, fmt.Errorf("%w: %s", mailbox.ErrReadOnly, path)
	}
	switch {
	case len(m.Emails) == 0:
		return nil, ErrNoPostponed
	case index < 0 && len(m.Emails) > 1:
		return nil, ErrSelect
	case index < 0:
		index = 0
	case index >= len(m.Emails):
		return nil, fmt.Errorf("%w: no postponed message %d", ErrSyntax, index)
	}
	pe := m.Emails[index]

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	defer func() {
		err := f.Close()
		log.Check(err, "closing postponed mailbox file")
	}()
	if err := parse.ParseMIMEMessage(ctx, c, f, pe); err != nil {
		return nil, err
	}

	// The mailbox is parsed without user headers, the saved Mutt-* headers
	// are among them.
	st, err := muaio.NewStream(io.NewSectionReader(f, pe.Offset, pe.Body.Offset-pe.Offset))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	if line, err := st.ReadLine(); err != nil {
		return nil, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	} else if _, _, ok := parse.IsFrom(string(line)); !ok {
		if err := st.SeekTo(0); err != nil {
			return nil, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}
	}
	env, err := parse.ReadHeader(ctx, c, st, nil, true, false)
	if err != nil {
		return nil, err
	}

	r := &Recalled{Flags: Postponed}
	e := email.New()
	e.Env = env
	if err := s.recallHeaders(r, e, cur); err != nil {
		return nil, err
	}
	e.Body, err = s.templateBody(ctx, f, pe.Body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr != nil {
			e.Body.Free()
		}
	}()
	// Attachments become separate parts again.
	if e.Body.Type == mime.TypeMultipart && strings.EqualFold(e.Body.Subtype, "mixed") && e.Body.Parts != nil {
		e.Body = e.Body.Parts
	}
	r.Email = e

	pe.SetFlag(email.FlagDeleted, true)
	pe.SetFlag(email.FlagPurge, true)
	m.Changed = true
	if _, err := store.Sync(ctx, c, m); err != nil {
		return nil, err
	}
	log.Info("postponed message recalled", slog.String("messageid", e.Env.MessageID))
	return r, nil
}

// recallHeaders removes the Mutt-* headers saved by Postpone from the user
// headers of e, applying them to r and e.
func (s *Sender) recallHeaders(r *Recalled, e *email.Email, cur *mailbox.Mailbox) error {
	var keep []string
	for _, h := range e.Env.UserHdrs {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			keep = append(keep, h)
			continue
		}
		value = strings.TrimSpace(value)
		if len(name) > 2 && strings.EqualFold(name[:2], "X-") {
			name = name[2:]
		}
		switch {
		case strings.EqualFold(name, sendlib.HeaderReferences):
			id, _ := parse.ExtractMessageID(value)
			if cur != nil && id != "" {
				if o := cur.ByMessageID(id); o != nil {
					r.ReplyTo = o
					r.Flags |= Reply
				}
			}
		case strings.EqualFold(name, sendlib.HeaderFcc):
			r.Fcc = value
			r.Flags |= PostponedFcc
		case strings.EqualFold(name, sendlib.HeaderPGP):
			sec, err := ParseCryptFlags(value, email.AppPGP)
			if err != nil {
				return err
			}
			e.Security |= sec
		case strings.EqualFold(name, sendlib.HeaderSMIME):
			sec, err := ParseCryptFlags(value, email.AppSMIME)
			if err != nil {
				return err
			}
			e.Security |= sec
		case strings.EqualFold(name, sendlib.HeaderMix):
		default:
			keep = append(keep, h)
		}
	}
	e.Env.UserHdrs = keep
	return nil
}

// templateBody copies the part tree of a saved message, writing the
// decoded content of each part to a temporary file.
func (s *Sender) templateBody(ctx context.Context, in io.ReaderAt, b *email.Body) (*email.Body, error) {
	if b.Type == mime.TypeMultipart && strings.EqualFold(b.Subtype, "encrypted") {
		return nil, fmt.Errorf("%w: cannot recall encrypted message", handler.ErrCrypto)
	}
	nb := email.NewBody()
	nb.Type = b.Type
	nb.Subtype = b.Subtype
	nb.XType = b.XType
	nb.Disposition = b.Disposition
	nb.UseDisp = b.UseDisp
	nb.Params = b.Params.Copy()
	nb.DFilename = b.DFilename
	nb.Description = b.Description
	nb.Language = b.Language
	nb.ContentID = b.ContentID

	if b.Type == mime.TypeMultipart {
		nb.Encoding = mime.Enc7bit
		for p := b.Parts; p != nil; p = p.Next {
			np, err := s.templateBody(ctx, in, p)
			if err != nil {
				nb.Free()
				return nil, err
			}
			nb.AppendPart(np)
		}
		return nb, nil
	}

	text := b.Type == mime.TypeText
	path, _, err := s.writeTemp(ctx, "recall", func(f *os.File) error {
		r := handler.NewDecoder(io.NewSectionReader(in, b.Offset, b.Length), b.Encoding, text)
		_, err := io.Copy(f, r)
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	nb.Filename = path
	nb.Unlink = true
	if text {
		nb.Charset = b.GetCharset()
		if err := flowed.UnstuffAttachment(nb, path); err != nil {
			nb.Free()
			return nil, err
		}
	}
	return nb, nil
}
