package sendlib

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/message"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muavar"
	"github.com/muacore/mua/parse"
)

// Mode is the purpose a header is written for.
type Mode int

const (
	ModeNormal   Mode = iota // Message to be sent.
	ModeFcc                  // Copy of a sent message to save.
	ModePostpone             // Draft to postpone.
	ModeEditHdrs             // Header for editing, with empty fields to fill in.
	ModeMIME                 // Protected headers inside a MIME part.
)

// HeaderOpts influence WriteHeader.
type HeaderOpts struct {
	Mode Mode

	// Leave out headers revealing the sender and time: Date, From, Sender,
	// Message-ID and User-Agent.
	Privacy bool

	// Write the configured replacement subject, for messages whose subject
	// is protected inside the encrypted part.
	HideSubject bool

	// Time for the Date header. Zero means now.
	Now time.Time

	// For ModePostpone, information for recalling the draft.
	Postpone *PostponeInfo
}

// PostponeInfo is saved in Mutt-* headers of a postponed message and
// consumed when it is recalled.
type PostponeInfo struct {
	InReplyTo string // Message-ID of the message replied to.
	Fcc       string // Mailbox to save a copy to when sent.
	PGP       string // Crypto flags, e.g. "ES".
	SMIME     string
	Mix       string // Remailer chain.
}

// Header names of PostponeInfo fields.
const (
	HeaderFcc        = "Mutt-Fcc"
	HeaderReferences = "Mutt-References"
	HeaderPGP        = "Mutt-PGP"
	HeaderSMIME      = "Mutt-SMIME"
	HeaderMix        = "Mutt-Mix"
)

// WriteHeader writes the header of a composed message with envelope env and
// body b. For all modes except ModeEditHdrs, the MIME headers of b are
// included. The blank line ending the header is not written.
func WriteHeader(c *mua.Config, w io.Writer, env *email.Envelope, b *email.Body, opts HeaderOpts) (rerr error) {
	defer recoverWrite(&rerr)
	xwriteHeader(c, w, env, b, opts)
	return nil
}

func xwriteHeader(c *mua.Config, w io.Writer, env *email.Envelope, b *email.Body, opts HeaderOpts) {
	xprintf := func(format string, args ...any) {
		_, err := fmt.Fprintf(w, format, args...)
		xcheckf(err, "writing header")
	}
	mode := opts.Mode
	editing := mode == ModeEditHdrs
	stored := mode == ModeNormal || mode == ModeFcc || mode == ModePostpone

	if stored && !opts.Privacy {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		xprintf("Date: %s\n", parse.FormatDate(now))
	}

	if !opts.Privacy {
		xcheckf(env.From.WriteFile(w, "From"), "writing from")
		xcheckf(env.Sender.WriteFile(w, "Sender"), "writing sender")
	}

	if len(env.To) > 0 {
		xcheckf(env.To.WriteFile(w, "To"), "writing to")
	} else if editing {
		xprintf("To:\n")
	}
	if len(env.Cc) > 0 {
		xcheckf(env.Cc.WriteFile(w, "Cc"), "writing cc")
	} else if editing {
		xprintf("Cc:\n")
	}
	if len(env.Bcc) > 0 {
		if mode == ModePostpone || editing || mode == ModeFcc || mode == ModeNormal && c.Static.WriteBcc {
			xcheckf(env.Bcc.WriteFile(w, "Bcc"), "writing bcc")
		}
	} else if editing {
		xprintf("Bcc:\n")
	}

	if env.Newsgroups != "" {
		xprintf("Newsgroups: %s\n", env.Newsgroups)
	}
	if env.FollowupTo != "" {
		xprintf("Followup-To: %s\n", env.FollowupTo)
	}
	if env.XCommentTo != "" {
		xprintf("X-Comment-To: %s\n", env.XCommentTo)
	}

	hopts := message.HeaderOpts{}
	if env.Subject != "" {
		subj := env.Subject
		if opts.HideSubject && stored {
			subj = c.Static.ProtectedHeadersSubject
		}
		xcheckf(message.WriteHeader(w, "Subject", subj, hopts), "writing subject")
	} else if editing {
		xprintf("Subject:\n")
	}

	if env.MessageID != "" && !opts.Privacy {
		xprintf("Message-ID: %s\n", env.MessageID)
	}

	if len(env.ReplyTo) > 0 {
		xcheckf(env.ReplyTo.WriteFile(w, "Reply-To"), "writing reply-to")
	} else if editing {
		xprintf("Reply-To:\n")
	}
	xcheckf(env.MailFollowupTo.WriteFile(w, "Mail-Followup-To"), "writing mail-followup-to")

	overrideType, overrideAgent := xwriteUserHeaders(w, env.UserHdrs, opts.Privacy, hopts)

	if stored || mode == ModeMIME {
		if len(env.References) > 0 {
			xprintf("References:")
			xcheckf(message.WriteReferences(w, env.References, 10), "writing references")
			xprintf("\n")
		}
		if !overrideType && b != nil {
			xprintf("MIME-Version: 1.0\n")
			xwriteMimeHeader(c, w, b)
		}
	}

	if len(env.InReplyTo) > 0 {
		xprintf("In-Reply-To:")
		xcheckf(message.WriteReferences(w, env.InReplyTo, 0), "writing in-reply-to")
		xprintf("\n")
	}

	if (mode == ModeNormal || mode == ModeFcc) && !opts.Privacy && c.Static.UserAgent && !overrideAgent {
		xprintf("User-Agent: %s\n", muavar.UserAgent())
	}

	if mode == ModePostpone && opts.Postpone != nil {
		pi := opts.Postpone
		for _, h := range []struct{ name, value string }{
			{HeaderReferences, pi.InReplyTo},
			{HeaderFcc, pi.Fcc},
			{HeaderPGP, pi.PGP},
			{HeaderSMIME, pi.SMIME},
			{HeaderMix, pi.Mix},
		} {
			if h.value != "" {
				xprintf("%s: %s\n", h.name, h.value)
			}
		}
	}
}

// xwriteUserHeaders writes the user defined headers with a value. It returns
// whether a Content-Type or User-Agent was among them.
func xwriteUserHeaders(w io.Writer, hdrs []string, privacy bool, hopts message.HeaderOpts) (contentType, userAgent bool) {
	for _, h := range hdrs {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		value = strings.TrimLeft(value, " \t\r\n")
		if value == "" {
			continue
		}
		isAgent := strings.EqualFold(name, "User-Agent")
		if strings.EqualFold(name, "Content-Type") {
			contentType = true
		} else if isAgent {
			userAgent = true
		}
		if privacy && isAgent {
			continue
		}
		xcheckf(message.WriteHeader(w, name, value, hopts), "writing user header")
	}
	return
}
