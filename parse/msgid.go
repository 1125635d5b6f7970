package parse

import (
	"net/url"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/rfc2047"
)

// ExtractMessageID returns the first "<...>" token of s after decoding RFC
// 2047 encoded words, and the number of bytes of the decoded text consumed.
// An empty id is returned if there is none.
func ExtractMessageID(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	return extractMessageID(rfc2047.Decode(s, nil))
}

func extractMessageID(s string) (string, int) {
	beg := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			beg = i
		case '>':
			if beg >= 0 {
				return s[beg : i+1], i + 1
			}
		}
	}
	return "", 0
}

// ParseReferences returns the message-ids of a References or In-Reply-To
// value, most recent (last in the header) first. Whitespace inside an id,
// added by mailers that fold in the middle of ids, is removed.
func ParseReferences(s string) []string {
	var l []string
	s = rfc2047.Decode(s, nil)
	for {
		id, n := extractMessageID(s)
		if n == 0 {
			break
		}
		s = s[n:]
		id = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, id)
		l = append([]string{id}, l...)
	}
	return l
}

// ParseMailto parses a mailto URL into env. Only path-only URLs are accepted,
// e.g. "mailto:list@example.org?subject=hi". Query fields are applied when
// allowed by the MailToAllow configuration. A "body" field is returned
// instead of added to env.
func ParseMailto(c *mua.Config, env *email.Envelope, src string) (body string, ok bool) {
	u, err := url.Parse(src)
	if err != nil || !strings.EqualFold(u.Scheme, "mailto") || u.Host != "" {
		return "", false
	}
	path := u.Opaque
	if path == "" {
		path = u.Path
	}
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	env.To = append(env.To, address.Parse(path)...)

	if u.RawQuery != "" {
		for _, kv := range strings.Split(u.RawQuery, "&") {
			k, v, _ := strings.Cut(kv, "=")
			if x, err := url.PathUnescape(k); err == nil {
				k = x
			}
			if x, err := url.PathUnescape(v); err == nil {
				v = x
			}
			k = filterHeaderName(k)
			if !c.MailToAllowed(k) {
				continue
			}
			if strings.EqualFold(k, "body") {
				body = v
				continue
			}
			v = strings.TrimLeft(filterHeaderValue(v), " \t")
			if v == "" {
				continue
			}
			ParseLine(c, env, nil, k, v, true, false, true)
		}
	}

	env.DecodeRFC2047(c.Static.AssumedCharset, c.ReplyRegex)
	return body, true
}
