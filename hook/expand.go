package hook

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mua-"
)

// Expand replaces the message expandos in a format, as used in the mailbox
// names of save, fcc and mbox hooks and in index format hooks:
//
//	%a  address of the author
//	%A  reply-to address, or address of the author
//	%b  file name of the mailbox
//	%C  message number
//	%F  name of the author, or the recipient for messages from the user
//	%i  Message-ID
//	%L  mailing list of the message, or like %F
//	%n  name of the author, or the address
//	%N  score
//	%s  subject
//	%t  first recipient address
//	%u  user name of the author
//	%v  first name of the author
//	%y  X-Label
//	%%  a literal %
//
// An expando can have a minimum width, and a maximum width after a dot, with
// "-" for left alignment, e.g. "%-20.20s". Unknown expandos are kept.
func Expand(c *mua.Config, format string, m *mailbox.Mailbox, e *email.Email) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 == len(format) {
			b.WriteByte(format[i])
			continue
		}
		start := i
		i++
		left := false
		if format[i] == '-' {
			left = true
			i++
		}
		j := i
		for j < len(format) && format[j] >= '0' && format[j] <= '9' {
			j++
		}
		minw, _ := strconv.Atoi(format[i:j])
		maxw := -1
		if j < len(format) && format[j] == '.' {
			k := j + 1
			for k < len(format) && format[k] >= '0' && format[k] <= '9' {
				k++
			}
			maxw, _ = strconv.Atoi(format[j+1 : k])
			j = k
		}
		if j == len(format) {
			b.WriteString(format[start:])
			break
		}
		i = j
		v, ok := expando(c, format[i], m, e)
		if !ok {
			b.WriteString(format[start : i+1])
			continue
		}
		if maxw >= 0 {
			v = runewidth.Truncate(v, maxw, "")
		}
		if left {
			v = runewidth.FillRight(v, minw)
		} else {
			v = runewidth.FillLeft(v, minw)
		}
		b.WriteString(v)
	}
	return b.String()
}

func firstAddr(l address.List) *address.Address {
	if a := first(l); a != nil {
		return a
	}
	return &address.Address{}
}

func name(a *address.Address) string {
	if a.Personal != "" {
		return a.Personal
	}
	return a.Mailbox
}

func expando(c *mua.Config, ch byte, m *mailbox.Mailbox, e *email.Email) (string, bool) {
	env := e.Env
	if env == nil {
		env = &email.Envelope{}
	}
	from := firstAddr(env.From)
	switch ch {
	case '%':
		return "%", true
	case 'a':
		return from.Mailbox, true
	case 'A':
		if a := first(env.ReplyTo); a != nil {
			return a.Mailbox, true
		}
		return from.Mailbox, true
	case 'b':
		if m == nil {
			return "", true
		}
		return filepath.Base(m.Path), true
	case 'C':
		return strconv.Itoa(e.MsgNo), true
	case 'F':
		if c.User.IsUser(from) {
			return "To " + name(firstAddr(env.To)), true
		}
		return name(from), true
	case 'i':
		return env.MessageID, true
	case 'L':
		if a, _ := c.Lists.FirstList(env.To, env.Cc); a != nil {
			local, _, _ := strings.Cut(a.Mailbox, "@")
			return "To " + local, true
		}
		return expando(c, 'F', m, e)
	case 'n':
		return name(from), true
	case 'N':
		return strconv.Itoa(e.Score), true
	case 's':
		return env.Subject, true
	case 't':
		return firstAddr(env.To).Mailbox, true
	case 'u':
		local, _, _ := strings.Cut(from.Mailbox, "@")
		return local, true
	case 'v':
		n := name(from)
		if i := strings.IndexAny(n, " \t@"); i >= 0 {
			n = n[:i]
		}
		return n, true
	case 'y':
		return env.XLabel, true
	}
	return "", false
}
