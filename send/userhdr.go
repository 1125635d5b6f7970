package send

import (
	"context"
	"fmt"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/parse"
)

// UserHeaders are the headers set with my_hdr, added to composed messages.
type UserHeaders struct {
	lines []string // "Name: value"
}

// LoadUserHeaders returns the headers of c.Static.MyHeaders.
func LoadUserHeaders(c *mua.Config) (*UserHeaders, error) {
	h := &UserHeaders{}
	for _, line := range c.Static.MyHeaders {
		if err := h.Add(line); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Add adds a header line "Name: value", replacing a header with the same
// name.
func (h *UserHeaders) Add(line string) error {
	name, _, ok := strings.Cut(line, ":")
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: invalid header field %q", ErrSyntax, line)
	}
	for i, l := range h.lines {
		if n, _, _ := strings.Cut(l, ":"); strings.EqualFold(n, name) {
			h.lines[i] = line
			return nil
		}
	}
	h.lines = append(h.lines, line)
	return nil
}

// Remove removes the headers with the given names, or all for "*".
func (h *UserHeaders) Remove(names ...string) {
	for _, name := range names {
		if name == "*" {
			h.lines = nil
			continue
		}
		name = strings.TrimSuffix(name, ":")
		var l []string
		for _, line := range h.lines {
			if n, _, _ := strings.Cut(line, ":"); !strings.EqualFold(n, name) {
				l = append(l, line)
			}
		}
		h.lines = l
	}
}

// Lines returns the headers.
func (h *UserHeaders) Lines() []string {
	return append([]string(nil), h.lines...)
}

// Execute runs "my_hdr Name: value" and "unmy_hdr name..." command lines. It
// returns false for other commands.
func (h *UserHeaders) Execute(ctx context.Context, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "my_hdr":
		return true, h.Add(rest)
	case "unmy_hdr":
		if rest == "" {
			return true, fmt.Errorf("%w: too few arguments", ErrSyntax)
		}
		h.Remove(strings.Fields(rest)...)
		return true, nil
	}
	return false, nil
}

func headerValue(line, name string) (string, bool) {
	if len(line) > len(name) && strings.EqualFold(line[:len(name)], name) && line[len(name)] == ':' {
		return strings.TrimSpace(line[len(name)+1:]), true
	}
	return "", false
}

// ApplyRecips adds the addresses of To, Cc and Bcc headers to env.
func (h *UserHeaders) ApplyRecips(env *email.Envelope) {
	for _, line := range h.lines {
		if v, ok := headerValue(line, "to"); ok {
			env.To = append(env.To, address.Parse(v)...)
		} else if v, ok := headerValue(line, "cc"); ok {
			env.Cc = append(env.Cc, address.Parse(v)...)
		} else if v, ok := headerValue(line, "bcc"); ok {
			env.Bcc = append(env.Bcc, address.Parse(v)...)
		}
	}
}

var skipHeaders = []string{"to", "cc", "bcc", "newsgroups", "followup-to", "x-comment-to", "supersedes", "subject", "return-path"}

// Apply sets From, Reply-To and Message-ID of env from the headers, and adds
// other headers to the user headers of env. Recipient headers and headers
// set by the composer are skipped.
func (h *UserHeaders) Apply(env *email.Envelope) {
lines:
	for _, line := range h.lines {
		if v, ok := headerValue(line, "from"); ok {
			env.From = address.Parse(v)
			continue
		}
		if v, ok := headerValue(line, "reply-to"); ok {
			env.ReplyTo = address.Parse(v)
			continue
		}
		if v, ok := headerValue(line, "message-id"); ok {
			if id, _ := parse.ExtractMessageID(v); address.ValidMsgID(id) {
				env.MessageID = id
			}
			continue
		}
		for _, name := range skipHeaders {
			if _, ok := headerValue(line, name); ok {
				continue lines
			}
		}
		env.UserHdrs = append(env.UserHdrs, line)
	}
}
