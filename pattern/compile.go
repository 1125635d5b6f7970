package pattern

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/muacore/mua/mua-"
)

// Options for compiling a pattern.
type Options struct {
	Flags CompileFlags

	// For message ranges: the number of messages for "$", and the number of
	// the current message for ".", zero if none.
	MsgCount int
	Current  int

	// Path of the mailbox passed to the external search command for ~I.
	Mailbox string

	// Time relative date ranges are computed from. Zero means now.
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

type compiler struct {
	ctx  context.Context
	c    *mua.Config
	opts Options
}

func syntaxErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

// Compile compiles pattern s.
func Compile(ctx context.Context, c *mua.Config, s string, opts Options) (*Pattern, error) {
	cp := compiler{ctx, c, opts}
	p, err := cp.compile(s)
	if err != nil {
		pkglog.Debugx("compiling pattern", err, slog.String("pattern", s))
		return nil, err
	}
	return p, nil
}

// MustCompile is like Compile, but panics on errors. For tests and
// constant patterns.
func MustCompile(c *mua.Config, s string, flags CompileFlags) *Pattern {
	p, err := Compile(context.Background(), c, s, Options{Flags: flags})
	if err != nil {
		panic(fmt.Sprintf("compiling pattern %q: %v", s, err))
	}
	return p
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

// matchingParen returns the index of the ")" closing the "(" before i, or
// len(s).
func matchingParen(s string, i int) int {
	level := 1
	for ; i < len(s); i++ {
		switch s[i] {
		case '(':
			level++
		case ')':
			level--
			if level == 0 {
				return i
			}
		}
	}
	return i
}

// keyword returns the length of a spelled out "and" or "or" at i, or 0.
func keyword(s string, i int, word string) int {
	n := len(word)
	if i+n > len(s) || !strings.EqualFold(s[i:i+n], word) {
		return 0
	}
	if i+n < len(s) && !isSpace(s[i+n]) && s[i+n] != '(' {
		return 0
	}
	return n
}

func (cp compiler) compile(s string) (*Pattern, error) {
	var list []*Pattern
	var not, allAddr, or bool
	implicit := true

	// Implicit AND binds stronger than "|": "A | B C" is "(A | B) C".
	implicitAnd := func() {
		if implicit && or {
			list = []*Pattern{{Op: OpOr, Children: list}}
			or = false
		}
	}
	orOp := func(i int) error {
		if !or {
			if len(list) == 0 {
				return syntaxErrorf("error in pattern at: %s", s[i:])
			}
			if len(list) > 1 {
				// "A B | C" is "(A B) | C".
				list = []*Pattern{{Op: OpAnd, Children: list}}
			}
			or = true
		}
		implicit = false
		not = false
		allAddr = false
		return nil
	}

	i := skipSpace(s, 0)
	if i == len(s) {
		return nil, ErrEmpty
	}
	for i < len(s) {
		switch ch := s[i]; ch {
		case '^':
			i++
			allAddr = !allAddr
		case '!':
			i++
			not = !not
		case '|':
			if err := orOp(i); err != nil {
				return nil, err
			}
			i++
		case '~', '=', '%':
			if i+1 == len(s) {
				return nil, syntaxErrorf("missing pattern: %s", s[i:])
			}
			var threadOp Op
			switch {
			case s[i+1] == '(':
				threadOp = OpThread
			case strings.HasPrefix(s[i+1:], "<("):
				threadOp = OpParent
			case strings.HasPrefix(s[i+1:], ">("):
				threadOp = OpChildren
			}
			implicitAnd()
			if threadOp != 0 {
				open := i + 1
				if threadOp != OpThread {
					open++
				}
				end := matchingParen(s, open+1)
				if end == len(s) {
					return nil, syntaxErrorf("mismatched parentheses: %s", s[i:])
				}
				sub, err := cp.compile(s[open+1 : end])
				if err != nil {
					return nil, err
				}
				list = append(list, &Pattern{Op: threadOp, Not: not, AllAddr: allAddr, Children: []*Pattern{sub}})
				not, allAddr = false, false
				implicit = true
				i = end + 1
				break
			}

			l := s[i+1]
			t, ok := terms[l]
			if !ok {
				return nil, syntaxErrorf("%c%c: invalid pattern modifier", ch, l)
			}
			if t.flags != 0 && cp.opts.Flags&t.flags == 0 {
				return nil, fmt.Errorf("%w: %c%c", ErrUnsupported, ch, l)
			}
			p := &Pattern{
				Op:          t.op,
				Not:         not,
				AllAddr:     allAddr,
				StringMatch: ch == '=',
				GroupMatch:  ch == '%',
				SendMode:    cp.opts.Flags&SendMode != 0,
			}
			not, allAddr = false, false
			i = skipSpace(s, i+2)
			if t.arg != argNone {
				if i == len(s) {
					return nil, syntaxErrorf("missing parameter for %c%c", ch, l)
				}
				var err error
				i, err = cp.argument(p, t.arg, s, i)
				if err != nil {
					return nil, err
				}
			}
			list = append(list, p)
			implicit = true

		case '(':
			end := matchingParen(s, i+1)
			if end == len(s) {
				return nil, syntaxErrorf("mismatched parentheses: %s", s[i:])
			}
			sub, err := cp.compile(s[i+1 : end])
			if err != nil {
				return nil, err
			}
			implicitAnd()
			sub.Not = sub.Not != not
			sub.AllAddr = sub.AllAddr || allAddr
			not, allAddr = false, false
			list = append(list, sub)
			implicit = true
			i = end + 1

		default:
			if n := keyword(s, i, "or"); n > 0 {
				if err := orOp(i); err != nil {
					return nil, err
				}
				i += n
				break
			}
			if n := keyword(s, i, "and"); n > 0 && len(list) > 0 {
				i += n
				break
			}
			return nil, syntaxErrorf("error in pattern at: %s", s[i:])
		}
		i = skipSpace(s, i)
	}

	switch len(list) {
	case 0:
		return nil, ErrEmpty
	case 1:
		return list[0], nil
	}
	if or {
		return &Pattern{Op: OpOr, Children: list}, nil
	}
	return &Pattern{Op: OpAnd, Children: list}, nil
}

// token reads a pattern argument starting at i: up to white space or one of
// "~%=!|;", with quoting and backslash escapes.
func token(s string, i int) (string, int, error) {
	var b strings.Builder
	var quote byte
	i = skipSpace(s, i)
	for i < len(s) {
		ch := s[i]
		if quote == 0 && (isSpace(ch) || ch == ';' || strings.IndexByte("~%=!|", ch) >= 0) {
			break
		}
		i++
		switch {
		case ch == quote:
			quote = 0
		case quote == 0 && (ch == '\'' || ch == '"'):
			quote = ch
		case ch == '\\' && quote != '\'':
			if i == len(s) {
				return "", i, syntaxErrorf("premature end of token")
			}
			ch = s[i]
			i++
			switch ch {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'f':
				b.WriteByte('\f')
			case 'e':
				b.WriteByte('\033')
			default:
				b.WriteByte(ch)
			}
		default:
			b.WriteByte(ch)
		}
	}
	if quote != 0 {
		return "", i, syntaxErrorf("unterminated quote")
	}
	return b.String(), i, nil
}

func isLower(s string) bool {
	return strings.ToLower(s) == s
}

func (cp compiler) argument(p *Pattern, arg argKind, s string, i int) (int, error) {
	switch arg {
	case argRange:
		return eatRange(p, s, i)
	case argMessageRange:
		return cp.eatMessageRange(p, s, i)
	}

	start := i
	tok, i, err := token(s, i)
	if err != nil {
		return i, err
	}
	if tok == "" {
		return i, syntaxErrorf("empty expression: %s", s[start:])
	}

	switch arg {
	case argRegexp:
		switch {
		case p.StringMatch:
			p.Str = tok
			p.IgnoreCase = isLower(tok)
			if p.IgnoreCase {
				p.Str = strings.ToLower(tok)
			}
		case p.GroupMatch:
			p.Str = tok
		default:
			expr := "(?m)" + tok
			if isLower(tok) {
				expr = "(?i)" + expr
			}
			p.Regex, err = regexp.Compile(expr)
			if err != nil {
				return i, fmt.Errorf("%w: %q: %v", ErrSyntax, tok, err)
			}
		}

	case argDate:
		if cp.opts.Flags&Dynamic != 0 {
			p.Dynamic = true
			p.Str = tok
		}
		min, max, err := dateRange(tok, cp.opts.now())
		if err != nil {
			return i, err
		}
		p.Min, p.Max = min.Unix(), max.Unix()

	case argQuery:
		ids, err := cp.externalSearch(tok)
		if err != nil {
			return i, err
		}
		p.IDs = ids
	}
	return i, nil
}

// eatRange parses a numeric range: "N", "N-M", "-M", "N-", "<N", ">N",
// with optional K and M suffixes.
func eatRange(p *Pattern, s string, i int) (int, error) {
	quoted := false
	if i < len(s) && s[i] == '"' {
		quoted = true
		i++
	}
	num := func(i int) (int64, int) {
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		v, _ := strconv.ParseInt(s[i:j], 10, 64)
		if j < len(s) {
			switch s[j] {
			case 'k', 'K':
				v *= 1024
				j++
			case 'm', 'M':
				v *= 1024 * 1024
				j++
			}
		}
		return v, j
	}
	digit := func(i int) bool {
		return i < len(s) && s[i] >= '0' && s[i] <= '9'
	}
	finish := func(i int) int {
		if quoted && i < len(s) && s[i] == '"' {
			i++
		}
		return skipSpace(s, i)
	}

	exclusive := i < len(s) && s[i] == '<'
	if i < len(s) && s[i] != '-' && s[i] != '<' {
		if s[i] == '>' {
			if !digit(i + 1) {
				return i, syntaxErrorf("invalid range: %s", s[i:])
			}
			v, j := num(i + 1)
			p.Min, p.Max = v+1, MaxRange
			return finish(j), nil
		}
		if !digit(i) {
			return i, syntaxErrorf("invalid range: %s", s[i:])
		}
		v, j := num(i)
		p.Min = v
		if j >= len(s) || s[j] != '-' {
			p.Max = v
			return finish(j), nil
		}
		i = j + 1
	} else {
		i++
	}

	if digit(i) {
		v, j := num(i)
		p.Max = v
		if exclusive {
			p.Max--
		}
		i = j
	} else {
		p.Max = MaxRange
	}
	return finish(i), nil
}

// eatMessageRange parses a message number range: "N", "N-M", "N,M", "<N",
// ">N", with "^" for the first, "$" for the last and "." for the current
// message, and open ends.
func (cp compiler) eatMessageRange(p *Pattern, s string, i int) (int, error) {
	tok, ni, err := token(s, i)
	if err != nil {
		return ni, err
	}
	if tok == "" {
		return ni, syntaxErrorf("empty message range")
	}
	last := int64(MaxRange)
	if cp.opts.MsgCount > 0 {
		last = int64(cp.opts.MsgCount)
	}

	slot := func(v string, left bool) (int64, error) {
		switch v {
		case "":
			if left {
				return 1, nil
			}
			return last, nil
		case "^":
			return 1, nil
		case "$":
			return last, nil
		case ".":
			if cp.opts.Current <= 0 {
				return 0, syntaxErrorf("no current message")
			}
			return int64(cp.opts.Current), nil
		}
		mult := int64(1)
		switch v[len(v)-1] {
		case 'k', 'K':
			mult = 1024
			v = v[:len(v)-1]
		case 'm', 'M':
			mult = 1024 * 1024
			v = v[:len(v)-1]
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, syntaxErrorf("invalid message number %q", v)
		}
		return n * mult, nil
	}

	switch {
	case tok[0] == '<':
		v, err := slot(tok[1:], false)
		if err != nil {
			return ni, err
		}
		p.Min, p.Max = 1, v-1
	case tok[0] == '>':
		v, err := slot(tok[1:], true)
		if err != nil {
			return ni, err
		}
		p.Min, p.Max = v+1, last
	default:
		sep := strings.IndexAny(tok, "-,")
		if sep < 0 {
			v, err := slot(tok, true)
			if err != nil {
				return ni, err
			}
			p.Min, p.Max = v, v
			break
		}
		p.Min, err = slot(tok[:sep], true)
		if err != nil {
			return ni, err
		}
		p.Max, err = slot(tok[sep+1:], false)
		if err != nil {
			return ni, err
		}
	}
	if p.Max != MaxRange && p.Min > p.Max {
		p.Min, p.Max = p.Max, p.Min
	}
	return ni, nil
}

// externalSearch runs the configured external search command and returns the
// Message-IDs it prints.
func (cp compiler) externalSearch(query string) ([]string, error) {
	cmdline := ""
	if cp.c != nil {
		cmdline = cp.c.Static.ExternalSearchCommand
	}
	if cmdline == "" {
		return nil, fmt.Errorf("%w: no external search command configured", ErrSyntax)
	}
	args, err := shellquote.Split(cmdline)
	if err != nil || len(args) == 0 {
		return nil, fmt.Errorf("%w: parsing external search command: %v", ErrSyntax, err)
	}
	folder := cp.opts.Mailbox
	if folder == "" {
		folder = "/"
	}
	args = append(args, folder, query)

	ctx := cp.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	log := pkglog.WithContext(ctx)
	log.Debug("running external search command", slog.Any("args", args))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running external search command: %v (%s)", err, strings.TrimSpace(stderr.String()))
	}
	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, scanner.Err()
}
