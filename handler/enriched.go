package handler

import (
	"bufio"
	"io"
	"strings"
	"unicode"

	"github.com/muacore/mua/email"
)

// text/enriched, RFC 1896.

const indentSize = 4

type richAttr int

const (
	richParam richAttr = iota
	richBold
	richUnderline
	richItalic
	richNoFill
	richIndent
	richIndentRight
	richExcerpt
	richCenter
	richFlushLeft
	richFlushRight
	richColor
	richMax
)

var enrichedTags = map[string]richAttr{
	"param":       richParam,
	"bold":        richBold,
	"underline":   richUnderline,
	"italic":      richItalic,
	"nofill":      richNoFill,
	"indent":      richIndent,
	"indentright": richIndentRight,
	"excerpt":     richExcerpt,
	"center":      richCenter,
	"flushleft":   richFlushLeft,
	"flushright":  richFlushRight,
	"flushboth":   richFlushLeft,
	"color":       richColor,
}

var enrichedColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

type enriched struct {
	s          *State
	buf        []rune // Current word, with overstrike sequences.
	line       []rune
	param      []rune
	lineLen    int // Width of line.
	wordLen    int // Width of buf.
	indentLen  int
	level      [richMax]int
	wrapMargin int
}

func (e *enriched) display() bool {
	return e.s.Flags&Display != 0
}

func (e *enriched) wrap() {
	s := e.s
	if e.lineLen > 0 {
		if e.level[richCenter] > 0 || e.level[richFlushRight] > 0 {
			for len(e.line) > 1 && unicode.IsSpace(e.line[len(e.line)-1]) {
				e.line = e.line[:len(e.line)-1]
				e.lineLen--
			}
			if e.level[richCenter] > 0 {
				n := 0
				for n < len(e.line) && unicode.IsSpace(e.line[n]) {
					n++
				}
				e.line = e.line[n:]
				e.lineLen -= n
			}
		}

		extra := e.wrapMargin - e.lineLen - e.indentLen - e.level[richIndentRight]*indentSize
		if extra > 0 {
			if e.level[richCenter] > 0 {
				s.Puts(strings.Repeat(" ", extra/2))
			} else if e.level[richFlushRight] > 0 {
				s.Puts(strings.Repeat(" ", extra-1))
			}
		}
		s.Puts(string(e.line))
	}

	s.Putc('\n')
	e.line = e.line[:0]
	e.lineLen = 0
	e.indentLen = 0
	if s.Prefix != "" {
		s.Puts(s.Prefix)
		e.indentLen += len(s.Prefix)
	}

	if e.level[richExcerpt] > 0 {
		for i := 0; i < e.level[richExcerpt]; i++ {
			p := s.Prefix
			if p == "" {
				p = "> "
			}
			s.Puts(p)
			e.indentLen += len(p)
		}
	} else {
		e.indentLen = 0
	}

	if e.level[richIndent] > 0 {
		n := e.level[richIndent] * indentSize
		e.indentLen += n
		s.Puts(strings.Repeat(" ", n))
	}
}

func (e *enriched) flush(wrap bool) {
	if e.level[richNoFill] == 0 && e.lineLen+e.wordLen > e.wrapMargin-e.level[richIndentRight]*indentSize-e.indentLen {
		e.wrap()
	}
	if len(e.buf) > 0 || e.wordLen > 0 {
		e.line = append(e.line, e.buf...)
		e.lineLen += e.wordLen
		e.wordLen = 0
		e.buf = e.buf[:0]
	}
	if wrap {
		e.wrap()
	}
}

func (e *enriched) putc(c rune) {
	if e.level[richParam] > 0 {
		if e.level[richColor] > 0 {
			e.param = append(e.param, c)
		}
		return
	}

	if e.level[richNoFill] == 0 && unicode.IsSpace(c) || c == 0 {
		if c == '\t' {
			e.wordLen += 8 - (e.lineLen+e.wordLen)%8
		} else {
			e.wordLen++
		}
		if c != 0 {
			e.buf = append(e.buf, c)
		}
		e.flush(false)
		return
	}

	switch {
	case !e.display():
		e.buf = append(e.buf, c)
	case e.level[richBold] > 0:
		e.buf = append(e.buf, c, '\b', c)
	case e.level[richUnderline] > 0:
		e.buf = append(e.buf, '_', '\b', c)
	case e.level[richItalic] > 0:
		e.buf = append(e.buf, c, '\b', '_')
	default:
		e.buf = append(e.buf, c)
	}
	e.wordLen++
}

// puts adds a control sequence that takes no room on screen.
func (e *enriched) puts(str string) {
	e.buf = append(e.buf, []rune(str)...)
}

func (e *enriched) setFlags(tag string) {
	closing := strings.HasPrefix(tag, "/")
	attr, ok := enrichedTags[strings.ToLower(strings.TrimPrefix(tag, "/"))]
	if !ok {
		return
	}

	if attr == richCenter || attr == richFlushLeft || attr == richFlushRight {
		e.flush(true)
	}

	if closing {
		if e.level[attr] > 0 {
			e.level[attr]--
		}
		if e.display() && attr == richParam && e.level[richColor] > 0 {
			if seq, ok := enrichedColors[strings.ToLower(string(e.param))]; ok {
				e.puts(seq)
			}
		}
		if e.display() && attr == richColor {
			e.puts("\x1b[0m")
		}
		if attr == richParam {
			e.param = e.param[:0]
		}
	} else {
		e.level[attr]++
	}

	if attr == richExcerpt {
		e.flush(true)
	}
}

func enrichedHandler(s *State, b *email.Body, r io.Reader) error {
	const maxTag = 1024

	wl := s.WrapLen
	e := &enriched{s: s, wrapMargin: 72}
	if wl > 4 && (s.Flags&Display != 0 || wl < 76) {
		e.wrapMargin = wl - 4
	}

	if s.Prefix != "" {
		s.Puts(s.Prefix)
		e.indentLen += len(s.Prefix)
	}

	const (
		stText = iota
		stLangle
		stTag
		stBogusTag
		stNewline
	)
	state := stText
	var tag []rune
	br := bufio.NewReader(r)
	for {
		c, _, err := br.ReadRune()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}

		switch state {
		case stText:
			switch c {
			case '<':
				state = stLangle
			case '\n':
				if e.level[richNoFill] > 0 {
					e.flush(true)
				} else {
					e.putc(' ')
					state = stNewline
				}
			default:
				e.putc(c)
			}

		case stLangle:
			if c == '<' {
				e.putc(c)
				state = stText
				break
			}
			tag = tag[:0]
			state = stTag
			fallthrough

		case stTag:
			if c == '>' {
				e.setFlags(string(tag))
				state = stText
			} else if len(tag) < maxTag {
				tag = append(tag, c)
			} else {
				state = stBogusTag
			}

		case stBogusTag:
			if c == '>' {
				state = stText
			}

		case stNewline:
			if c == '\n' {
				e.flush(true)
			} else {
				if err := br.UnreadRune(); err != nil {
					return err
				}
				state = stText
			}
		}
		if s.err != nil {
			return s.err
		}
	}

	e.putc(0)
	e.flush(true)
	s.Putc('\n')
	return s.err
}
