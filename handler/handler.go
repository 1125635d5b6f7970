package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/flowed"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
)

// leafHandler writes a part from its decoded content.
type leafHandler func(s *State, b *email.Body, r io.Reader) error

// containerHandler writes a multipart or message part, reading its children
// from s.In.
type containerHandler func(s *State, b *email.Body) error

// CanDecode returns whether b, or a part of it, can be shown.
func CanDecode(b *email.Body) bool {
	switch b.Type {
	case mime.TypeText, mime.TypeMessage:
		return true
	case mime.TypeMultipart:
		if strings.EqualFold(b.Subtype, "signed") {
			return true
		}
		for p := b.Parts; p != nil; p = p.Next {
			if CanDecode(p) {
				return true
			}
		}
	}
	return false
}

// PreferAsAttachment returns whether b is better shown as an attachment than
// inline.
func PreferAsAttachment(b *email.Body, honorDisposition bool) bool {
	if !CanDecode(b) {
		return true
	}
	if b.Disposition != mime.DispAttach {
		return false
	}
	return honorDisposition
}

func (s *State) weed() bool {
	return s.Config != nil && !s.Config.Static.NoWeed
}

// BodyHandler writes part b to s, decoding it according to its type.
func BodyHandler(s *State, b *email.Body) error {
	if s.depth >= MaxDepth {
		s.log().Debug("parts nested too deeply", slog.Int("depth", s.depth))
		return ErrDepth
	}
	if err := s.ctxErr(); err != nil {
		return err
	}
	s.depth++
	defer func() {
		s.depth--
	}()

	var leaf leafHandler
	var container containerHandler
	plaintext := false
	subtype := strings.ToLower(b.Subtype)

	switch b.Type {
	case mime.TypeText:
		switch subtype {
		case "plain":
			if flowed.IsFlowed(b) && (s.Config == nil || !s.Config.Static.NoReflowText) {
				leaf = flowedHandler
			} else {
				leaf = textPlainHandler
			}
		case "enriched":
			leaf = enrichedHandler
		default:
			plaintext = true
		}

	case mime.TypeMessage:
		switch {
		case b.IsMessage():
			container = messageHandler
		case subtype == "delivery-status":
			plaintext = true
		case subtype == "external-body":
			container = externalBodyHandler
		}

	case mime.TypeMultipart:
		switch {
		case s.Crypto != nil && s.Crypto.Handles(b):
			container = cryptoHandler
		case subtype == "alternative":
			container = alternativeHandler
		case subtype == "multilingual":
			container = multilingualHandler
		case subtype == "signed":
			if b.Params.Value("protocol") == "" {
				s.log().Debug("multipart/signed without protocol")
			}
			container = signedHandler
		case subtype == "encrypted":
		default:
			container = multipartHandler
		}

	case mime.TypeApplication:
		if s.Crypto != nil && s.Crypto.Handles(b) {
			container = cryptoHandler
		} else if subtype == "pgp-keys" {
			plaintext = true
		}
	}

	switch {
	case plaintext:
		return DecodeAttachment(s, b)
	case leaf != nil:
		if err := leaf(s, b, ctxReader{s, s.reader(b)}); err != nil {
			return err
		}
		return s.err
	case container != nil:
		if b.Encoding == mime.EncBase64 || b.Encoding == mime.EncQuotedPrintable || b.Encoding == mime.EncUUencoded {
			return decodeContainer(s, b, container)
		}
		if err := container(s, b); err != nil {
			return err
		}
		return s.err
	}

	if s.Flags&Display != 0 {
		s.AttachPrintf("[-- %s is unsupported --]\n", b.MimeType())
	}
	return s.err
}

// decodeContainer decodes a transfer-encoded multipart or message part to a
// temporary file, parses its structure and hands it to h.
func decodeContainer(s *State, b *email.Body, h containerHandler) (rerr error) {
	log := s.log()
	dir := ""
	if s.Config != nil {
		dir = s.Config.Static.Tmpdir
	}
	f, err := os.CreateTemp(dir, "mua-decode-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		err := f.Close()
		log.Check(err, "closing temporary file")
		err = os.Remove(f.Name())
		log.Check(err, "removing temporary file")
	}()

	size, err := io.Copy(f, ctxReader{s, NewDecoder(muaio.Section(s.In, b.Offset, b.Length), b.Encoding, false)})
	if err != nil {
		return fmt.Errorf("decoding part: %w", err)
	}

	nb := *b
	nb.Encoding = mime.Enc7bit
	nb.Offset = 0
	nb.HdrOffset = 0
	nb.Length = size
	nb.Parts = nil
	nb.Email = nil
	nb.Next = nil
	st, err := muaio.NewStream(f)
	if err != nil {
		return err
	}
	if err := parse.ParsePart(s.ctx(), s.Config, st, &nb); err != nil && !errors.Is(err, parse.ErrParse) {
		return err
	}
	defer func() {
		nb.Parts.Free()
		nb.Parts = nil
	}()
	if nb.Parts == nil {
		// The parser degrades a container without parts to text.
		return s.withIn(f, func() error { return DecodeAttachment(s, &nb) })
	}
	return s.withIn(f, func() error {
		if err := h(s, &nb); err != nil {
			return err
		}
		return s.err
	})
}

func textPlainHandler(s *State, b *email.Body, r io.Reader) error {
	textFlowed := s.Config != nil && s.Config.Static.TextFlowed
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			if textFlowed && line != "-- " {
				line = strings.TrimRight(line, " ")
			}
			s.Puts(s.Prefix + line + "\n")
		}
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func flowedHandler(s *State, b *email.Body, r io.Reader) error {
	replying := s.Flags&Replying != 0
	var o flowed.Options
	if s.Config != nil {
		o = flowed.NewOptions(s.Config, s.wrapLen(), replying)
	} else {
		o = flowed.Options{Width: s.wrapLen(), Display: !replying, Replying: replying, SpaceQuotes: true}
	}
	if replying && s.Prefix != "" {
		o.Prefix = s.Prefix
	}
	return flowed.Decode(s.ctx(), r, rawWriter{s}, b.Params, o)
}

func (s *State) ctx() context.Context {
	if s.Ctx == nil {
		return context.Background()
	}
	return s.Ctx
}

// partLine writes the type line of a part.
func partLine(s *State, b *email.Body, n int) {
	cs := ""
	if v := b.Params.Value("charset"); v != "" {
		cs = "; charset=" + v
	}
	size := humanize.Bytes(uint64(max(b.Length, 0)))
	if n == 0 {
		s.AttachPrintf("[-- Type: %s%s, Encoding: %s, Size: %s --]\n", b.MimeType(), cs, b.Encoding, size)
	} else {
		s.AttachPrintf("[-- Alternative Type #%d: %s%s, Encoding: %s, Size: %s --]\n", n, b.MimeType(), cs, b.Encoding, size)
	}
}

// partName is the name shown for a part.
func partName(b *email.Body) string {
	switch {
	case b.Description != "":
		return b.Description
	case b.DFilename != "":
		return b.DFilename
	case b.Filename != "":
		return b.Filename
	}
	return b.FormName
}

// partHeader writes the MIME header of a part when headers are not weeded.
func partHeader(s *State, b *email.Body) error {
	if s.weed() {
		s.Putc('\n')
		return s.err
	}
	_, err := io.Copy(rawWriter{s}, muaio.Section(s.In, b.HdrOffset, b.Offset-b.HdrOffset))
	return err
}

func multipartHandler(s *State, b *email.Body) error {
	log := s.log()
	var failed error
	count := 1
	for p := b.Parts; p != nil; p = p.Next {
		if s.Flags&Display != 0 {
			if name := partName(p); name != "" {
				s.AttachPrintf("[-- Attachment #%d: %s --]\n", count, name)
			} else {
				s.AttachPrintf("[-- Attachment #%d --]\n", count)
			}
			partLine(s, p, 0)
			if err := partHeader(s, p); err != nil {
				return err
			}
		}

		err := BodyHandler(s, p)
		s.Putc('\n')
		if err != nil && s.ctxErr() != nil {
			return err
		}
		if err != nil {
			log.Debugx("part could not be displayed", err, slog.Int("part", count))
			if s.Flags&(Display|Printing) == 0 {
				return err
			}
			failed = err
		}
		count++
	}
	if failed != nil {
		return fmt.Errorf("one or more parts of this message could not be displayed: %w", failed)
	}
	return s.err
}

// alternativeChoice returns the part of a multipart/alternative to show.
func alternativeChoice(s *State, b *email.Body) *email.Body {
	if s.Config != nil {
		for _, pref := range s.Config.Static.AlternativeOrder {
			base, sub, hasSub := strings.Cut(pref, "/")
			wild := !hasSub || sub == "*"
			var choice *email.Body
			for p := b.Parts; p != nil; p = p.Next {
				t, st, _ := strings.Cut(p.MimeType(), "/")
				if strings.EqualFold(t, base) && (wild || strings.EqualFold(st, sub)) {
					choice = p
				}
			}
			if choice != nil {
				return choice
			}
		}
	}

	const (
		txtHTML = 1 + iota
		txtPlain
		txtEnriched
	)
	var choice *email.Body
	kind := 0
	for p := b.Parts; p != nil; p = p.Next {
		if p.Type != mime.TypeText {
			continue
		}
		switch strings.ToLower(p.Subtype) {
		case "plain":
			if kind <= txtPlain {
				choice, kind = p, txtPlain
			}
		case "enriched":
			if kind <= txtEnriched {
				choice, kind = p, txtEnriched
			}
		case "html":
			if kind <= txtHTML {
				choice, kind = p, txtHTML
			}
		}
	}
	if choice != nil {
		return choice
	}

	for p := b.Parts; p != nil; p = p.Next {
		if CanDecode(p) {
			choice = p
		}
	}
	return choice
}

func alternativeHandler(s *State, b *email.Body) error {
	choice := alternativeChoice(s, b)
	if choice == nil {
		if s.Flags&Display != 0 {
			s.AttachPuts("[-- Error: Could not display any parts of Multipart/Alternative --]\n")
		}
		return fmt.Errorf("%w: no displayable alternative", ErrUnsupported)
	}
	if s.Flags&Display != 0 && !s.weed() {
		if err := partHeader(s, choice); err != nil {
			return err
		}
	}
	return BodyHandler(s, choice)
}

func multilingualHandler(s *State, b *email.Body) error {
	var first, zxx *email.Body
	var langs []string
	if s.Config != nil {
		langs = s.Config.Static.PreferredLanguages
	}
	for p := b.Parts; p != nil; p = p.Next {
		if !CanDecode(p) {
			continue
		}
		if first == nil {
			first = p
		}
		if strings.EqualFold(p.Language, "zxx") {
			zxx = p
		}
	}
	for _, lang := range langs {
		for p := b.Parts; p != nil; p = p.Next {
			if CanDecode(p) && p.Language != "" && strings.EqualFold(strings.TrimSpace(lang), p.Language) {
				return BodyHandler(s, p)
			}
		}
	}
	switch {
	case zxx != nil:
		return BodyHandler(s, zxx)
	case first != nil:
		return BodyHandler(s, first)
	}
	if s.Flags&Display != 0 {
		s.AttachPuts("[-- Error: Could not display any parts of Multipart/Multilingual --]\n")
	}
	return fmt.Errorf("%w: no displayable language", ErrUnsupported)
}

// signedHandler shows the signed content of a multipart/signed without a
// crypto provider to verify it.
func signedHandler(s *State, b *email.Body) error {
	if b.Parts == nil {
		return fmt.Errorf("%w: multipart/signed without parts", ErrUnsupported)
	}
	if s.Flags&Display != 0 {
		s.AttachPrintf("[-- Error: Unknown multipart/signed protocol %s --]\n\n", b.Params.Value("protocol"))
	}
	return BodyHandler(s, b.Parts)
}

func cryptoHandler(s *State, b *email.Body) error {
	err := s.Crypto.Handle(s, b)
	if err != nil {
		if s.Flags&Display != 0 {
			s.AttachPuts("[-- Error: decryption failed --]\n")
		}
		if !errors.Is(err, ErrCrypto) {
			err = fmt.Errorf("%w: %v", ErrCrypto, err)
		}
		return err
	}
	return s.err
}

// headerFlags are the flags for copying headers of embedded messages.
func (s *State) headerFlags() msgcopy.HeaderFlags {
	flags := msgcopy.HDecode | msgcopy.HFrom
	if s.Flags&Weed != 0 || s.Flags&(Display|Printing) != 0 && s.weed() {
		flags |= msgcopy.HWeed | msgcopy.HReorder
	}
	if s.Prefix != "" {
		flags |= msgcopy.HPrefix
	}
	if s.Flags&Display != 0 {
		flags |= msgcopy.HDisplay
	}
	return flags
}

func (s *State) copyOpts() msgcopy.CopyOpts {
	opts := msgcopy.CopyOpts{Prefix: s.Prefix, WrapLen: s.wrapLen()}
	if s.Config != nil {
		opts.HeaderOrder = s.Config.Static.HeaderOrder
	}
	return opts
}

func messageHandler(s *State, b *email.Body) error {
	msg := b.Parts
	if msg == nil {
		return fmt.Errorf("%w: message part without message", ErrUnsupported)
	}
	if err := msgcopy.CopyHeader(s.Config, s.In, rawWriter{s}, b.Offset, msg.Offset, s.headerFlags(), s.copyOpts()); err != nil {
		return err
	}
	s.Puts(s.Prefix + "\n")
	return BodyHandler(s, msg)
}

func externalBodyHandler(s *State, b *email.Body) error {
	accessType := b.Params.Value("access-type")
	if accessType == "" {
		if s.Flags&Display != 0 {
			s.AttachPuts("[-- Error: message/external-body has no access-type parameter --]\n")
		}
		return fmt.Errorf("%w: external-body without access-type", ErrUnsupported)
	}
	if s.Flags&(Display|Printing) == 0 {
		return nil
	}

	inner := b.Parts
	innerType := "text/plain"
	if inner != nil {
		innerType = inner.MimeType()
	}
	expiration := b.Params.Value("expiration")
	var expire int64 = -1
	if expiration != "" {
		if t, _, ok := parse.ParseDate(expiration); ok {
			expire = t
		}
	}

	switch {
	case strings.EqualFold(accessType, "x-mutt-deleted"):
		var sb strings.Builder
		sb.WriteString("[-- This " + innerType + " attachment ")
		if length := b.Params.Value("length"); length != "" {
			sb.WriteString("(size " + length + " bytes) ")
		}
		sb.WriteString("has been deleted --]\n")
		s.AttachPuts(sb.String())
		if expire != -1 {
			s.AttachPrintf("[-- on %s --]\n", expiration)
		}
		if inner != nil && inner.DFilename != "" {
			s.AttachPrintf("[-- name: %s --]\n", inner.DFilename)
		}
	case expiration != "" && expire < time.Now().Unix():
		s.AttachPrintf("[-- This %s attachment is not included, --]\n", innerType)
		s.AttachPuts("[-- and the indicated external source has --]\n[-- expired. --]\n")
	default:
		s.AttachPrintf("[-- This %s attachment is not included, --]\n", innerType)
		s.AttachPrintf("[-- and the indicated access-type %s is unsupported --]\n", accessType)
	}

	if inner == nil {
		return s.err
	}
	flags := msgcopy.HDecode
	if s.weed() {
		flags |= msgcopy.HWeed | msgcopy.HReorder
	}
	opts := s.copyOpts()
	opts.Prefix = ""
	if err := msgcopy.CopyHeader(s.Config, s.In, rawWriter{s}, b.Offset, inner.Offset, flags, opts); err != nil {
		return err
	}
	return s.err
}
