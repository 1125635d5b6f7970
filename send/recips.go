package send

import (
	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/hook"
	"github.com/muacore/mua/mua-"
)

// defaultTo adds the addresses a reply to in goes to. With group set, a
// Mail-Followup-To is used when honored.
func defaultTo(c *mua.Config, to *address.List, in *email.Envelope, group, honorFollowup bool) {
	if group && len(in.MailFollowupTo) > 0 && honorFollowup {
		*to = append(*to, in.MailFollowupTo.Copy(true)...)
		return
	}

	var from, replyTo *address.Address
	if len(in.From) > 0 {
		from = in.From[0]
	}
	if len(in.ReplyTo) > 0 {
		replyTo = in.ReplyTo[0]
	}

	switch {
	case !c.Static.ReplySelf && c.User.IsUser(from):
		// Replying to our own message goes to its recipients.
		*to = append(*to, in.To.Copy(true)...)
	case replyTo != nil:
		fromIsReplyTo := address.Cmp(from, replyTo)
		single := len(in.ReplyTo) == 1
		listReplyTo := c.Static.IgnoreListReplyTo && c.Lists.IsMailList(replyTo) && (in.To.Search(replyTo) || in.Cc.Search(replyTo))
		if fromIsReplyTo && single && replyTo.Personal == "" || listReplyTo {
			// A Reply-To added by a mailing list, or identical to From.
			*to = append(*to, in.From.Copy(false)...)
		} else {
			*to = append(*to, in.ReplyTo.Copy(false)...)
		}
	default:
		*to = append(*to, in.From.Copy(false)...)
	}
}

// FetchRecips adds the recipients for a reply to the message with envelope
// in to out.
func FetchRecips(c *mua.Config, out, in *email.Envelope, flags Flags) {
	honorFollowup := !c.Static.NoHonorFollowupTo && len(in.MailFollowupTo) > 0
	switch {
	case flags&ListReply != 0:
		for _, l := range []address.List{in.To, in.Cc} {
			for _, a := range l {
				if c.Lists.IsMailList(a) {
					out.To = append(out.To, a.Copy())
				}
			}
		}
		if honorFollowup {
			defaultTo(c, &out.Cc, in, true, true)
		}

	case flags&ToSender != 0:
		out.To = append(out.To, in.From.Copy(false)...)

	default:
		group := flags&(GroupReply|GroupChatReply) != 0
		defaultTo(c, &out.To, in, group, honorFollowup)
		if group && !honorFollowup {
			if flags&GroupReply != 0 {
				out.Cc = append(out.Cc, in.To.Copy(true)...)
			} else {
				out.To = append(out.To, in.To.Copy(true)...)
			}
			out.Cc = append(out.Cc, in.Cc.Copy(true)...)
		}
	}
}

// removeUser removes the addresses of the user from l. With leaveOnly, the
// last address is kept.
func removeUser(c *mua.Config, l address.List, leaveOnly bool) address.List {
	var nl address.List
	for i, a := range l {
		if c.User.IsUser(a) && (!leaveOnly || i+1 < len(l)) {
			continue
		}
		nl = append(nl, a)
	}
	return nl
}

// FixReplyRecipients removes the user from the recipients of a reply unless
// Metoo is set, and removes duplicates. If only Cc remains, it becomes To.
func FixReplyRecipients(c *mua.Config, env *email.Envelope) {
	if !c.Static.Metoo {
		// Cc first, so a user that is the only recipient ends up in To.
		env.Cc = removeUser(c, env.Cc, len(env.To) == 0)
		env.To = removeUser(c, env.To, len(env.Cc) == 0 || c.Static.ReplySelf)
	}
	env.To.Dedupe()
	env.Cc.Dedupe()
	env.Cc.RemoveXrefs(env.To)
	if len(env.Cc) > 0 && len(env.To) == 0 {
		env.To, env.Cc = env.Cc, nil
	}
}

// AddReferences adds the message with envelope orig as parent of env: its
// references followed by its Message-ID become the References of env, and
// its Message-ID is added to In-Reply-To.
func AddReferences(env, orig *email.Envelope) {
	src := orig.References
	if len(src) == 0 {
		src = orig.InReplyTo
	}
	var refs []string
	if orig.MessageID != "" {
		refs = append(refs, orig.MessageID)
		env.InReplyTo = append([]string{orig.MessageID}, env.InReplyTo...)
	}
	refs = append(refs, src...)
	env.References = append(refs, env.References...)
}

// MakeReferenceHeaders sets References and In-Reply-To of env for a reply to
// the messages in parents. With multiple parents, no References are set.
func MakeReferenceHeaders(env *email.Envelope, parents []*email.Envelope) {
	for _, p := range parents {
		AddReferences(env, p)
	}
	if len(env.InReplyTo) > 1 {
		env.References = nil
	}
}

// ReplySubject returns the subject of a reply to orig.
func ReplySubject(c *mua.Config, orig *email.Envelope) string {
	if orig.RealSubj != "" {
		return "Re: " + orig.RealSubj
	}
	if orig.Subject != "" {
		return "Re: " + orig.Subject
	}
	return c.Static.EmptySubject
}

// ForwardSubject returns the subject of a forward of e, made with the
// ForwardFormat.
func ForwardSubject(c *mua.Config, e *email.Email) string {
	return hook.Expand(c, c.Static.ForwardFormat, nil, e)
}

// EnvelopeDefaults fills in the recipients, subject and references of env
// for a reply to or forward of the messages in cur.
func EnvelopeDefaults(c *mua.Config, env *email.Envelope, cur []*email.Email, flags Flags) error {
	if len(cur) == 0 {
		return nil
	}
	switch {
	case flags&(replyFlags|ToSender) != 0:
		for _, e := range cur {
			if e.Env != nil {
				FetchRecips(c, env, e.Env, flags)
			}
		}
		if flags&ListReply != 0 && len(env.To) == 0 {
			return ErrNoLists
		}
		if flags&replyFlags != 0 {
			var parents []*email.Envelope
			for _, e := range cur {
				if e.Env != nil {
					parents = append(parents, e.Env)
				}
			}
			if len(parents) > 0 && env.Subject == "" {
				env.SetSubject(ReplySubject(c, parents[0]), c.ReplyRegex)
			}
			MakeReferenceHeaders(env, parents)
		}

	case flags&Forward != 0:
		if env.Subject == "" {
			env.SetSubject(ForwardSubject(c, cur[0]), c.ReplyRegex)
		}
	}
	return nil
}

// SetFollowupTo sets Mail-Followup-To for a message to a known mailing list:
// all recipients without the user, preceded by the user when not subscribed
// to any of the lists so replies reach them.
func SetFollowupTo(c *mua.Config, env *email.Envelope) {
	if len(env.MailFollowupTo) > 0 {
		return
	}
	list, subscribed := c.Lists.FirstList(env.To, env.Cc)
	if list == nil {
		return
	}
	var l address.List
	l = append(l, env.To.Copy(false)...)
	l = append(l, env.Cc.Copy(true)...)
	l = removeUser(c, l, false)
	if len(l) > 0 && !subscribed {
		me := env.ReplyTo
		if len(me) == 0 {
			me = env.From
		}
		if len(me) == 0 {
			if f := c.From(); f != nil {
				me = address.List{f}
			}
		}
		l = append(me.Copy(false), l...)
	}
	l.Dedupe()
	env.MailFollowupTo = l
}
