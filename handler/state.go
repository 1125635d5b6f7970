// Package handler decodes message body parts for display, printing and
// quoting. Parts are dispatched by type to a handler writing to a State,
// with transfer decoding, charset conversion and quote prefixing.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
)

var pkglog = mlog.New("handler", nil)

var (
	// ErrCrypto is returned when a part could not be verified or decrypted.
	ErrCrypto = errors.New("handler: crypto operation failed")

	// ErrUnsupported is returned for parts that cannot be decoded.
	ErrUnsupported = errors.New("handler: unsupported part")

	// ErrDepth is returned for parts nested too deeply.
	ErrDepth = errors.New("handler: parts nested too deeply")
)

// MaxDepth is the maximum nesting of parts that is handled.
const MaxDepth = 100

// Flags influence the output of handlers.
type Flags uint16

const (
	Display       Flags = 1 << iota // Output is for the screen.
	Verify                          // Verify signatures.
	PendingPrefix                   // The prefix is written before the next character.
	CharConv                        // Convert text to the local charset.
	Printing                        // Output is for printing.
	Replying                        // Output is quoted text for a reply.
	FirstDone                       // The first line has been written.
	DisplayAttach                   // Displaying a single attachment.
	Weed                            // Weed headers of embedded messages.
)

// Crypto verifies and decrypts parts. Without a Crypto, signed parts are
// shown as multipart/mixed and encrypted parts as unsupported.
type Crypto interface {
	// Handles returns whether the part is signed or encrypted in a format
	// known to the provider, e.g. application/pgp or multipart/encrypted.
	Handles(b *email.Body) bool
	// Handle writes the verified or decrypted content of the part. Failures
	// wrap ErrCrypto.
	Handle(s *State, b *email.Body) error
}

// State is the sink for decoded output.
type State struct {
	Ctx     context.Context
	Config  *mua.Config
	In      io.ReaderAt // File with the message, part offsets are relative to it.
	Out     io.Writer
	Prefix  string // Quote prefix written at the start of each line.
	Flags   Flags
	WrapLen int // Screen width, zero for 80.
	Crypto  Crypto

	// Written before part information lines when displaying, for pagers that
	// highlight them.
	AttachMarker string

	depth int
	err   error
}

// NewState returns a State writing to out, reading parts from in. The
// configuration is required for handling embedded messages.
func NewState(ctx context.Context, c *mua.Config, in io.ReaderAt, out io.Writer, flags Flags) *State {
	return &State{Ctx: ctx, Config: c, In: in, Out: out, Flags: flags}
}

// Err returns the first write error.
func (s *State) Err() error {
	return s.err
}

func (s *State) log() mlog.Log {
	if s.Ctx != nil {
		return pkglog.WithContext(s.Ctx)
	}
	return pkglog
}

func (s *State) ctxErr() error {
	if s.Ctx == nil {
		return nil
	}
	return s.Ctx.Err()
}

func (s *State) wrapLen() int {
	if s.WrapLen > 0 {
		return s.WrapLen
	}
	return 80
}

// Puts writes str without prefixing.
func (s *State) Puts(str string) {
	if s.err == nil && str != "" {
		_, s.err = io.WriteString(s.Out, str)
	}
}

// Putc writes a single byte without prefixing.
func (s *State) Putc(c byte) {
	s.Puts(string([]byte{c}))
}

// Printf formats and writes without prefixing.
func (s *State) Printf(format string, args ...any) {
	s.Puts(fmt.Sprintf(format, args...))
}

// SetPrefix makes the prefix be written before the next character.
func (s *State) SetPrefix() {
	s.Flags |= PendingPrefix
}

// ResetPrefix cancels a pending prefix.
func (s *State) ResetPrefix() {
	s.Flags &^= PendingPrefix
}

// Write implements io.Writer, writing the prefix at the start of each line
// when set.
func (s *State) Write(buf []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.Prefix == "" {
		s.Puts(string(buf))
		return len(buf), s.err
	}
	o := 0
	for i, c := range buf {
		if s.Flags&PendingPrefix != 0 {
			s.Puts(string(buf[o:i]))
			o = i
			s.ResetPrefix()
			s.Puts(s.Prefix)
		}
		if c == '\n' {
			s.SetPrefix()
		}
	}
	s.Puts(string(buf[o:]))
	if s.err != nil {
		return 0, s.err
	}
	return len(buf), nil
}

// PrefixPuts writes str with prefixing.
func (s *State) PrefixPuts(str string) {
	s.Write([]byte(str))
}

// MarkAttach writes the attachment marker when displaying.
func (s *State) MarkAttach() {
	if s.Flags&Display != 0 && s.AttachMarker != "" {
		s.Puts(s.AttachMarker)
	}
}

// AttachPuts writes a part information line, marking each line.
func (s *State) AttachPuts(str string) {
	if str == "" {
		return
	}
	if str[0] != '\n' {
		s.MarkAttach()
	}
	for i := 0; i < len(str); i++ {
		s.Putc(str[i])
		if str[i] == '\n' && i+1 < len(str) {
			s.MarkAttach()
		}
	}
}

// AttachPrintf formats and writes with AttachPuts.
func (s *State) AttachPrintf(format string, args ...any) {
	s.AttachPuts(fmt.Sprintf(format, args...))
}

// withIn calls fn with parts read from in.
func (s *State) withIn(in io.ReaderAt, fn func() error) error {
	orig := s.In
	s.In = in
	defer func() {
		s.In = orig
	}()
	return fn()
}
