package sendlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/handler"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
)

// maxLine is the longest line, including the newline, that SMTP allows
// without encoding.
const maxLine = 990

// setEncoding picks the content-transfer-encoding for b with content info.
// Messages and multiparts with 8-bit data that may not be sent as such are
// converted to 7-bit.
func setEncoding(ctx context.Context, c *mua.Config, b *email.Body, info *email.Content) error {
	allow8bit := !c.Static.Disallow8bit
	switch {
	case b.Type == mime.TypeText:
		chs := strings.ToLower(b.GetCharset())
		switch {
		case info.Lobin > 0 && !strings.HasPrefix(chs, "iso-2022"), info.LineMax > maxLine, info.From && c.Static.EncodeFrom:
			b.Encoding = mime.EncQuotedPrintable
		case info.Hibin > 0:
			if allow8bit {
				b.Encoding = mime.Enc8bit
			} else {
				b.Encoding = mime.EncQuotedPrintable
			}
		default:
			b.Encoding = mime.Enc7bit
		}

	case b.Type == mime.TypeMessage || b.Type == mime.TypeMultipart:
		switch {
		case info.Lobin == 0 && info.Hibin == 0:
			b.Encoding = mime.Enc7bit
		case allow8bit && info.Lobin == 0:
			b.Encoding = mime.Enc8bit
		default:
			return MessageTo7bit(ctx, c, b, nil)
		}

	case b.Type == mime.TypeApplication && strings.EqualFold(b.Subtype, "pgp-keys"):
		b.Encoding = mime.Enc7bit

	default:
		// Pick the smaller encoding.
		bin := float64(info.Lobin + info.Hibin)
		if 1.33*(bin+float64(info.ASCII)) < 3*bin+float64(info.ASCII) {
			b.Encoding = mime.EncBase64
		} else {
			b.Encoding = mime.EncQuotedPrintable
		}
	}
	return nil
}

// UpdateEncoding analyzes the file of b, setting its charset parameter,
// content info and transfer encoding.
func UpdateEncoding(ctx context.Context, c *mua.Config, b *email.Body) error {
	if charset.IsASCII(b.GetCharset()) {
		b.NoConv = false
	}
	if !b.ForceCharset && !b.NoConv {
		b.Params.Delete("charset")
	}
	info, err := ContentInfo(c, b.Filename, b)
	if err != nil {
		return err
	}
	if err := setEncoding(ctx, c, b, info); err != nil {
		return err
	}
	b.Content = info
	return nil
}

// TransformTo7bit decodes the parts in the chain starting at b from in to
// temporary files, and encodes them for transmission without 8-bit data.
// Embedded messages are converted with MessageTo7bit.
func TransformTo7bit(ctx context.Context, c *mua.Config, b *email.Body, in io.ReaderAt) error {
	for ; b != nil; b = b.Next {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case b.Type == mime.TypeMultipart:
			b.Encoding = mime.Enc7bit
			if err := TransformTo7bit(ctx, c, b.Parts, in); err != nil {
				return err
			}

		case mime.IsMessage(b.Type, b.Subtype):
			if err := MessageTo7bit(ctx, c, b, in); err != nil {
				return err
			}

		default:
			if err := decodeToFile(ctx, c, b, in); err != nil {
				return err
			}
			if err := UpdateEncoding(ctx, c, b); err != nil {
				return err
			}
			switch b.Encoding {
			case mime.Enc8bit:
				b.Encoding = mime.EncQuotedPrintable
			case mime.EncBinary:
				b.Encoding = mime.EncBase64
			}
		}
	}
	return nil
}

// decodeToFile writes the transfer decoded content of b to a temporary file
// that replaces the file of b.
func decodeToFile(ctx context.Context, c *mua.Config, b *email.Body, in io.ReaderAt) error {
	b.NoConv = true
	b.ForceCharset = true

	f, err := tempFile(c, "mua-7bit-*")
	if err != nil {
		return err
	}
	s := handler.NewState(ctx, c, in, f, 0)
	if err := handler.DecodeAttachment(s, b); err != nil {
		removeTemp(f)
		return fmt.Errorf("decoding part: %w", err)
	}
	fi, err := f.Stat()
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		removeTemp(f)
		return fmt.Errorf("writing decoded part: %w", err)
	}

	if b.DFilename == "" {
		b.DFilename = b.Filename
	}
	b.Filename = f.Name()
	b.Unlink = true
	b.Offset = 0
	b.Length = fi.Size()
	return nil
}

// MessageTo7bit rewrites the embedded message b to a temporary file with all
// its parts encoded as 7-bit. The message is read from in at the offset of
// b, or from the file of b if it has one.
func MessageTo7bit(ctx context.Context, c *mua.Config, b *email.Body, in io.ReaderAt) (rerr error) {
	log := pkglog.WithContext(ctx)

	var src io.ReaderAt
	if b.Filename == "" && in != nil {
		src = in
	} else if b.Filename == "" {
		return fmt.Errorf("%w: message part without content", ErrContent)
	} else {
		f, err := os.Open(b.Filename)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrContent, err)
		}
		defer func() {
			err := f.Close()
			log.Check(err, "closing message file")
		}()
		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrContent, err)
		}
		b.Offset = 0
		b.Length = fi.Size()
		src = f
	}

	st, err := muaio.NewStream(io.NewSectionReader(src, 0, b.Offset+b.Length))
	if err != nil {
		return err
	}
	if err := st.SeekTo(b.Offset); err != nil {
		return fmt.Errorf("%w: %v", ErrContent, err)
	}
	parts, err := parse.ParseRFC822Message(ctx, c, st, b)
	if err != nil && !errors.Is(err, parse.ErrParse) {
		return err
	}
	b.Parts = parts
	defer func() {
		b.Parts.Free()
		b.Parts = nil
		if b.Email != nil {
			b.Email.Body = nil
		}
	}()

	if err := TransformTo7bit(ctx, c, b.Parts, src); err != nil {
		return err
	}

	out, err := tempFile(c, "mua-message-*")
	if err != nil {
		return err
	}
	werr := msgcopy.CopyHeader(c, src, out, b.Offset, b.Offset+b.Length, msgcopy.HMime|msgcopy.HNoNewline|msgcopy.HXmit, msgcopy.CopyOpts{})
	if werr == nil {
		_, werr = io.WriteString(out, "MIME-Version: 1.0\n")
	}
	if werr == nil {
		werr = WriteMimeHeader(c, out, b.Parts)
	}
	if werr == nil {
		_, werr = io.WriteString(out, "\n")
	}
	if werr == nil {
		werr = WriteMimeBody(ctx, c, out, b.Parts)
	}
	var size int64
	if werr == nil {
		var fi os.FileInfo
		fi, werr = out.Stat()
		if werr == nil {
			size = fi.Size()
			werr = out.Close()
		}
	}
	if werr != nil {
		removeTemp(out)
		return werr
	}

	b.Encoding = mime.Enc7bit
	if b.DFilename == "" {
		b.DFilename = b.Filename
	}
	if b.Filename != "" && b.Unlink {
		err := os.Remove(b.Filename)
		log.Check(err, "removing replaced message file", slog.String("path", b.Filename))
	}
	b.Filename = out.Name()
	b.Unlink = true
	b.Offset = 0
	b.Length = size
	return nil
}
