package send

import (
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/rfc2047"
)

// PrepareEnvelope encodes the envelope for writing. For a final message, a
// message without To and Cc gets an empty "undisclosed-recipients" group,
// Mail-Followup-To is set and a Message-ID generated.
func PrepareEnvelope(c *mua.Config, env *email.Envelope, final bool, now time.Time) {
	if final {
		if len(env.Bcc) > 0 && len(env.To) == 0 && len(env.Cc) == 0 {
			env.To = address.List{
				{Mailbox: "undisclosed-recipients", Group: true},
				{},
			}
		}
		SetFollowupTo(c, env)
		if env.MessageID == "" {
			env.MessageID = c.MessageIDGen(now)
		}
	}
	env.EncodeRFC2047(c.SendCharsets(), c.ReplyRegex)
}

// UnprepareEnvelope reverses PrepareEnvelope after a failed send, so the
// message can be edited again.
func UnprepareEnvelope(c *mua.Config, env *email.Envelope) {
	env.MailFollowupTo = nil
	env.DecodeRFC2047(c.Static.AssumedCharset, c.ReplyRegex)
	env.ToLocal()
}

// EncodeDescriptions encodes the Content-Description of all parts of the
// bodies as RFC 2047 encoded-words. Parts shared between bodies are encoded
// once.
func EncodeDescriptions(c *mua.Config, bodies ...*email.Body) {
	charsets := c.SendCharsets()
	walkDescriptions(bodies, func(s string) string {
		return rfc2047.Encode(s, "", len("Content-Description: "), charsets)
	})
}

// DecodeDescriptions reverses EncodeDescriptions.
func DecodeDescriptions(c *mua.Config, bodies ...*email.Body) {
	walkDescriptions(bodies, func(s string) string {
		return rfc2047.Decode(s, c.Static.AssumedCharset)
	})
}

func walkDescriptions(bodies []*email.Body, fn func(s string) string) {
	seen := map[*email.Body]bool{}
	for _, b := range bodies {
		b.Walk(func(p *email.Body) bool {
			if seen[p] {
				return false
			}
			seen[p] = true
			if p.Description != "" {
				p.Description = fn(p.Description)
			}
			return true
		})
	}
}
