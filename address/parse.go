package address

import (
	"errors"
	"strings"
)

// Specials are the characters with special meaning in addresses, RFC 5322
// section 3.2.3.
const Specials = "\"(),.:;<>@[\\]"

// ErrSyntax is returned by ParseStrict for malformed address lists.
var ErrSyntax = errors.New("address: syntax error")


type parser struct {
	s   string
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *parser) empty() bool {
	return p.pos >= len(p.s)
}

func (p *parser) peek() byte {
	if p.empty() {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) skipSpace() {
	for !p.empty() && isSpace(p.s[p.pos]) {
		p.pos++
	}
}

// comment parses a comment, the opening parenthesis already consumed. Nested
// comments are kept including their parentheses.
func (p *parser) comment() (string, error) {
	var b strings.Builder
	level := 1
	for ; !p.empty(); p.pos++ {
		c := p.s[p.pos]
		switch c {
		case '(':
			level++
		case ')':
			level--
			if level == 0 {
				p.pos++
				return b.String(), nil
			}
		case '\\':
			p.pos++
			if p.empty() {
				return "", ErrSyntax
			}
			c = p.s[p.pos]
		}
		b.WriteByte(c)
	}
	return "", ErrSyntax
}

// quoted parses a quoted string, the opening quote already consumed.
func (p *parser) quoted() (string, error) {
	var b strings.Builder
	for ; !p.empty(); p.pos++ {
		c := p.s[p.pos]
		if c == '"' {
			p.pos++
			return b.String(), nil
		}
		if c == '\\' {
			p.pos++
			if p.empty() {
				break
			}
			c = p.s[p.pos]
		}
		b.WriteByte(c)
	}
	return "", ErrSyntax
}

// token appends the next token to b. Comments are returned separately.
func (p *parser) token(b *strings.Builder, comments *[]string, stop string) error {
	c := p.peek()
	switch c {
	case '(':
		p.pos++
		s, err := p.comment()
		if err != nil {
			return err
		}
		*comments = append(*comments, s)
		return nil
	case '"':
		p.pos++
		s, err := p.quoted()
		if err != nil {
			return err
		}
		b.WriteString(s)
		return nil
	}
	if strings.IndexByte(stop, c) >= 0 {
		b.WriteByte(c)
		p.pos++
		return nil
	}
	for !p.empty() {
		c := p.s[p.pos]
		if isSpace(c) || strings.IndexByte(stop, c) >= 0 {
			break
		}
		b.WriteByte(c)
		p.pos++
	}
	return nil
}

// mailboxDomain reads tokens into b until a special character that is not in
// nonspecial. Dots, quotes and backslashes are part of local parts, and
// brackets are part of domain literals. Comments are collected.
func (p *parser) mailboxDomain(nonspecial string, b *strings.Builder, comments *[]string) error {
	for !p.empty() {
		p.skipSpace()
		if p.empty() {
			break
		}
		c := p.s[p.pos]
		if strings.IndexByte(nonspecial, c) < 0 && strings.IndexByte(Specials, c) >= 0 {
			break
		}
		if err := p.token(b, comments, Specials); err != nil {
			return err
		}
	}
	return nil
}

// addrSpec parses "local@domain" at the current position into a.
func (p *parser) addrSpec(a *Address, comments *[]string) error {
	var b strings.Builder
	if err := p.mailboxDomain("\"(.\\", &b, comments); err != nil {
		return err
	}
	p.skipSpace()
	if p.peek() == '@' {
		p.pos++
		b.WriteByte('@')
		if err := p.mailboxDomain("(.[\\]", &b, comments); err != nil {
			return err
		}
	}
	a.Mailbox = b.String()
	if a.Mailbox == "" {
		return ErrSyntax
	}
	if a.Personal == "" && len(*comments) > 0 {
		a.Personal = strings.Join(*comments, " ")
	}
	return nil
}

// routeAddr parses "<[@route:]addr-spec>", the "<" already consumed.
func (p *parser) routeAddr(a *Address) error {
	var comments []string
	p.skipSpace()
	var route string
	if p.peek() == '@' {
		// Obsolete source route, kept as part of the mailbox.
		i := strings.IndexAny(p.s[p.pos:], ":>")
		if i < 0 || p.s[p.pos+i] != ':' {
			return ErrSyntax
		}
		route = strings.Join(strings.Fields(p.s[p.pos:p.pos+i]), "") + ":"
		p.pos += i + 1
	}
	p.skipSpace()
	if p.peek() == '>' {
		// "<>", the null reverse path.
		p.pos++
		a.Mailbox = "@"
		return nil
	}
	if err := p.addrSpec(a, &comments); err != nil {
		return err
	}
	p.skipSpace()
	if p.peek() != '>' {
		return ErrSyntax
	}
	p.pos++
	a.Mailbox = route + a.Mailbox
	return nil
}

// Parse parses an address list as found in the value of a From, To or Cc
// header. Group syntax is returned as a group start address, the members and
// an empty group end address. Display names are returned as is, they can
// still contain RFC 2047 encoded words. Malformed input results in an empty
// list.
func Parse(s string) List {
	l, err := ParseStrict(s)
	if err != nil {
		pkglog.Debugx("parsing address list", err)
		return nil
	}
	return l
}

// ParseStrict is like Parse, but returns an error for malformed input.
func ParseStrict(s string) (List, error) {
	var l List
	p := &parser{s: s}
	var phrase strings.Builder
	var comments []string
	space := false

	// flush turns the collected phrase into an address.
	flush := func() error {
		if phrase.Len() > 0 {
			sp := &parser{s: phrase.String()}
			a := &Address{}
			var cm []string
			cm = append(cm, comments...)
			if err := sp.addrSpec(a, &cm); err != nil {
				return err
			}
			l = append(l, a)
		} else if len(comments) > 0 && len(l) > 0 && l[len(l)-1].Personal == "" {
			l[len(l)-1].Personal = strings.Join(comments, " ")
		}
		phrase.Reset()
		comments = nil
		space = false
		return nil
	}

	for !p.empty() {
		c := p.s[p.pos]
		switch {
		case isSpace(c):
			p.pos++
			space = phrase.Len() > 0
		case c == ',':
			p.pos++
			if err := flush(); err != nil {
				return nil, err
			}
		case c == ';':
			p.pos++
			if err := flush(); err != nil {
				return nil, err
			}
			l = append(l, &Address{})
		case c == '(':
			p.pos++
			cm, err := p.comment()
			if err != nil {
				return nil, err
			}
			comments = append(comments, cm)
		case c == '"':
			p.pos++
			q, err := p.quoted()
			if err != nil {
				return nil, err
			}
			if space {
				phrase.WriteByte(' ')
			}
			phrase.WriteString(q)
			space = false
		case c == ':':
			p.pos++
			l = append(l, &Address{Mailbox: phrase.String(), Group: true})
			phrase.Reset()
			comments = nil
			space = false
		case c == '<':
			p.pos++
			a := &Address{Personal: strings.TrimSpace(phrase.String())}
			if err := p.routeAddr(a); err != nil {
				return nil, err
			}
			l = append(l, a)
			phrase.Reset()
			comments = nil
			space = false
		default:
			if space {
				phrase.WriteByte(' ')
				space = false
			}
			for !p.empty() {
				c := p.s[p.pos]
				if isSpace(c) || strings.IndexByte(",;(\"<:", c) >= 0 {
					break
				}
				if c == '\\' && p.pos+1 < len(p.s) {
					p.pos++
					c = p.s[p.pos]
				}
				phrase.WriteByte(c)
				p.pos++
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return l, nil
}

// Parse2 is like Parse, but if s has no structure characters, it is split on
// white space. Used for addresses entered in prompts.
func Parse2(s string) List {
	if strings.ContainsAny(s, "\"<>():;,\\") {
		return Parse(s)
	}
	var l List
	for _, f := range strings.Fields(s) {
		l = append(l, Parse(f)...)
	}
	return l
}
