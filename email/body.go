package email

import (
	"errors"
	"os"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/mime"
)

// Content holds statistics about the bytes of a part, used to choose a
// content-transfer-encoding.
type Content struct {
	Hibin   int64 // Bytes >= 0x80.
	Lobin   int64 // Control bytes other than CR/LF/TAB.
	Nulbin  int64 // NUL bytes.
	CRLF    int64 // CR and LF bytes.
	ASCII   int64 // Printable ASCII.
	LineMax int64 // Length of the longest line.

	Space  bool // Whitespace at the end of a line.
	Binary bool // Long lines, or CR not followed by LF.
	From   bool // A line starts with "From ".
	Dot    bool // A line consists of a single ".".
	CR     bool // Has CRLF line endings.
}

// Body is a node of the MIME tree: a leaf part, or a multipart or
// message/rfc822 container.
type Body struct {
	Type        mime.Type
	Subtype     string
	XType       string // Raw major type when Type is TypeOther.
	Encoding    mime.Encoding
	Disposition mime.Disposition
	Params      mime.ParamList // Content-Type parameters.

	HdrOffset int64 // Start of the part headers.
	Offset    int64 // Start of the content.
	Length    int64 // Length of the content, -1 if unknown.

	Filename    string // File holding the content, for composed parts.
	DFilename   string // Filename from Content-Disposition, or to send as.
	Charset     string // Charset of the content in Filename, for composed text parts.
	FormName    string // Content-Disposition form-data name.
	Description string
	Language    string
	ContentID   string // Without angle brackets.

	Next  *Body  // Next sibling.
	Parts *Body  // First child of multipart and message parts.
	Email *Email // Embedded message of message/rfc822 parts.

	// Protected headers of an encrypted or signed part.
	MimeHeaders *Envelope

	Content *Content // Lazily computed by the encoding selector.

	// Entry in an attachment list while listed, set and cleared by the
	// handler package.
	Attach any

	AttachCount int // Number of qualifying attachments, -1 when not counted.

	UseDisp         bool // Write a Content-Disposition header.
	Unlink          bool // Remove Filename on Free.
	NoConv          bool // Do not convert charset when sending.
	ForceCharset    bool // Send with Charset regardless of content.
	Tagged          bool
	Deleted         bool // Attachment is removed on sync.
	GoodSig         bool
	BadSig          bool
	WarnSig         bool
	IsAutocrypt     bool
	Collapsed       bool
	AttachQualifies bool
}

// NewBody returns a part with defaults: attachment disposition, written
// Content-Disposition and an unknown length.
func NewBody() *Body {
	return &Body{
		Type:        mime.TypeText,
		Subtype:     "plain",
		Encoding:    mime.Enc7bit,
		Disposition: mime.DispAttach,
		UseDisp:     true,
		AttachCount: -1,
	}
}

// Free releases the part, its siblings and its children. Files owned by parts
// are removed, and embedded messages are freed, which notifies their
// observers.
func (b *Body) Free() {
	for b != nil {
		next := b.Next
		if b.Unlink && b.Filename != "" {
			err := os.Remove(b.Filename)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				pkglog.Errorx("removing attachment file", err)
			}
			b.Unlink = false
		}
		b.Parts.Free()
		b.Parts = nil
		if b.Email != nil {
			// The embedded message shares its body with Parts, freed above.
			b.Email.Body = nil
			b.Email.Free()
			b.Email = nil
		}
		b.Params = nil
		b.Content = nil
		b.Attach = nil
		b.MimeHeaders = nil
		b.Next = nil
		b = next
	}
}

// MimeType returns the type as "type/subtype".
func (b *Body) MimeType() string {
	t := b.Type.String()
	if b.Type == mime.TypeOther && b.XType != "" {
		t = b.XType
	}
	return t + "/" + b.Subtype
}

// IsMultipart returns whether b is a multipart container.
func (b *Body) IsMultipart() bool {
	return b.Type == mime.TypeMultipart
}

// IsMessage returns whether b is an embedded message.
func (b *Body) IsMessage() bool {
	return mime.IsMessage(b.Type, b.Subtype)
}

// IsText returns whether b has textual content.
func (b *Body) IsText() bool {
	return mime.IsText(b.Type, b.Subtype)
}

// CmpStrict returns whether two parts are the same: type, subtype, encoding,
// description, parameters in order, and length.
func (b *Body) CmpStrict(o *Body) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Type == o.Type &&
		b.Subtype == o.Subtype &&
		b.Encoding == o.Encoding &&
		b.Description == o.Description &&
		b.Params.Equal(o.Params) &&
		b.Length == o.Length
}

// GetCharset returns the canonical charset of a text part, "us-ascii" when
// none is set, and the empty string for other parts.
func (b *Body) GetCharset() string {
	if b.Type != mime.TypeText {
		return ""
	}
	if cs := b.Params.Value("charset"); cs != "" {
		return charset.Canonical(cs)
	}
	return "us-ascii"
}

// Walk calls fn for b and all its descendants, depth first. Siblings of b are
// not visited. If fn returns false, children of that part are skipped.
func (b *Body) Walk(fn func(p *Body) bool) {
	if b == nil {
		return
	}
	if !fn(b) {
		return
	}
	for p := b.Parts; p != nil; p = p.Next {
		p.Walk(fn)
	}
}

// Children returns the direct children of b.
func (b *Body) Children() []*Body {
	var l []*Body
	for p := b.Parts; p != nil; p = p.Next {
		l = append(l, p)
	}
	return l
}

// AppendPart adds p as last child of b.
func (b *Body) AppendPart(p *Body) {
	if b.Parts == nil {
		b.Parts = p
		return
	}
	last := b.Parts
	for last.Next != nil {
		last = last.Next
	}
	last.Next = p
}
