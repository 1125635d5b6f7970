package handler

import (
	"io"
	"log/slog"
	"strings"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
)

// AttachPtr is an entry in an attachment list.
type AttachPtr struct {
	Body       *email.Body
	In         io.ReaderAt // File the part is read from.
	ParentType mime.Type   // Type of the containing part, TypeOther for the root.
	Tree       string      // Tree drawing for the list display.
	Level      int         // Nesting depth.
	Num        int         // Attachment number.
	Unowned    bool        // In is not closed with the list.
	Decrypted  bool        // Part comes from a decrypted part.
	Collapsed  bool        // Children are hidden.
}

// ReaderAtCloser is a file with decrypted content.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Decrypter decrypts encrypted parts for the attachment list.
type Decrypter interface {
	// Encrypted returns whether b is an encrypted part it can decrypt.
	Encrypted(b *email.Body) bool
	// Decrypt returns the parsed decrypted part and the file its content is
	// in. Failures wrap ErrCrypto.
	Decrypt(in io.ReaderAt, b *email.Body) (*email.Body, ReaderAtCloser, error)
}

// AttachCtx is the list of attachments of a message, as shown in an
// attachment menu.
type AttachCtx struct {
	Email *email.Email
	In    io.ReaderAt

	Idx    []*AttachPtr
	V2R    []int // Visible entry index to index in Idx.
	files  []io.Closer
	bodies []*email.Body // Detached parts, from decryption.
}

// Add appends an entry.
func (a *AttachCtx) Add(ap *AttachPtr) {
	a.Idx = append(a.Idx, ap)
}

// Insert inserts an entry at index i, shifting later entries.
func (a *AttachCtx) Insert(ap *AttachPtr, i int) {
	i = min(max(i, 0), len(a.Idx))
	a.Idx = append(a.Idx, nil)
	copy(a.Idx[i+1:], a.Idx[i:])
	a.Idx[i] = ap
}

// AddFile registers a file that is closed when the list is freed.
func (a *AttachCtx) AddFile(f io.Closer) {
	a.files = append(a.files, f)
}

// AddBody registers a detached part that is freed with the list.
func (a *AttachCtx) AddBody(b *email.Body) {
	a.bodies = append(a.bodies, b)
}

// VCount returns the number of visible entries.
func (a *AttachCtx) VCount() int {
	return len(a.V2R)
}

// EntriesFree removes all entries, closing registered files and freeing
// detached parts.
func (a *AttachCtx) EntriesFree() {
	for _, ap := range a.Idx {
		if ap.Body != nil && ap.Body.Attach == ap {
			ap.Body.Attach = nil
		}
	}
	a.Idx = nil
	a.V2R = nil

	for _, f := range a.files {
		err := f.Close()
		pkglog.Check(err, "closing attachment file")
	}
	a.files = nil

	for _, b := range a.bodies {
		b.Free()
	}
	a.bodies = nil
}

// Free releases the list.
func (a *AttachCtx) Free() {
	a.EntriesFree()
	a.Email = nil
	a.In = nil
}

// NewRecvAttach returns the attachment list of a received message, read from
// in. Encrypted parts are replaced by their decrypted content if dec is not
// nil. Multipart/digest parts are collapsed if collapseDigest is set.
func NewRecvAttach(e *email.Email, in io.ReaderAt, dec Decrypter, collapseDigest bool) *AttachCtx {
	a := &AttachCtx{Email: e, In: in}
	a.generate(e, e.Body, in, mime.TypeOther, 0, false, dec)
	a.Init(collapseDigest)
	return a
}

func (a *AttachCtx) generate(e *email.Email, parts *email.Body, in io.ReaderAt, parentType mime.Type, level int, decrypted bool, dec Decrypter) {
	for m := parts; m != nil; m = m.Next {
		if dec != nil && dec.Encrypted(m) {
			nb, f, err := dec.Decrypt(in, m)
			if err == nil {
				a.AddFile(f)
				a.AddBody(nb)
				a.generate(e, nb, f, parentType, level, true, dec)
				continue
			}
			pkglog.Errorx("cannot decrypt encrypted message", err, slog.String("type", m.MimeType()))
		}

		ap := &AttachPtr{Body: m, In: in, ParentType: parentType, Level: level, Decrypted: decrypted}
		a.Add(ap)
		m.Attach = ap
		if m.IsMessage() && m.Email != nil {
			a.generate(m.Email, m.Parts, in, m.Type, level+1, decrypted, dec)
			e.Security |= m.Email.Security
		} else {
			a.generate(e, m.Parts, in, m.Type, level+1, decrypted, dec)
		}
	}
}

// Init resets the tagged state of the parts and collapses digests, then
// updates the visible entries.
func (a *AttachCtx) Init(collapseDigest bool) {
	digest := a.Email != nil && a.Email.Body != nil && strings.EqualFold(a.Email.Body.Subtype, "digest")
	for i, ap := range a.Idx {
		ap.Body.Tagged = false
		ap.Num = i
		ap.Collapsed = collapseDigest && (digest || ap.Body.Type == mime.TypeMultipart && strings.EqualFold(ap.Body.Subtype, "digest"))
	}
	a.UpdateV2R()
}

// UpdateV2R recomputes the visible entries, skipping children of collapsed
// entries.
func (a *AttachCtx) UpdateV2R() {
	a.V2R = a.V2R[:0]
	for r := 0; r < len(a.Idx); {
		a.V2R = append(a.V2R, r)
		if a.Idx[r].Collapsed {
			level := a.Idx[r].Level
			for r++; r < len(a.Idx) && a.Idx[r].Level > level; r++ {
			}
		} else {
			r++
		}
	}
}

// Toggle collapses or expands the children of visible entry v.
func (a *AttachCtx) Toggle(v int) {
	if v < 0 || v >= len(a.V2R) {
		return
	}
	ap := a.Idx[a.V2R[v]]
	ap.Collapsed = !ap.Collapsed
	a.UpdateV2R()
}
