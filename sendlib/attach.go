package sendlib

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/handler"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
)

// MimeTypesFiles returns the mime.types files consulted by LookupMimeType,
// later files taking precedence for equally long extensions.
func MimeTypesFiles() []string {
	files := []string{"/etc/mime.types", "/usr/local/etc/mime.types", "/usr/share/mua/mime.types"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".mime.types"))
	}
	return files
}

// LookupMimeType sets the type of b from the longest extension of path
// listed in the mime.types files. The type is returned, TypeOther if nothing
// matched.
func LookupMimeType(b *email.Body, path string, files []string) mime.Type {
	typ := mime.TypeOther
	var subtype, xtype string
	best := 0
	found := false

	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			continue
		}
		found = true
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			ct := fields[0]
			for _, ext := range fields[1:] {
				n := len(ext)
				if n <= best || len(path) < n || !strings.EqualFold(path[len(path)-n:], ext) {
					continue
				}
				if len(path) > n && path[len(path)-n-1] != '.' {
					continue
				}
				major, minor, ok := strings.Cut(ct, "/")
				if !ok {
					break
				}
				subtype = minor
				typ = mime.ParseType(major)
				xtype = ""
				if typ == mime.TypeOther {
					xtype = major
				}
				best = n
			}
		}
		if err := scanner.Err(); err != nil {
			pkglog.Debugx("reading mime.types", err, slog.String("path", file))
		}
		err = f.Close()
		pkglog.Check(err, "closing mime.types")
	}
	if !found {
		pkglog.Info("no mime.types file found")
	}

	if typ != mime.TypeOther || xtype != "" {
		b.Type = typ
		b.Subtype = subtype
		b.XType = xtype
	}
	return typ
}

// MakeFileAttach returns a part for attaching the file at path, with type
// from the file name or else from the content, and charset and transfer
// encoding set.
func MakeFileAttach(ctx context.Context, c *mua.Config, path string) (*email.Body, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrContent)
	}
	b := email.NewBody()
	b.Filename = path
	b.Type = mime.TypeOther
	b.Subtype = ""

	LookupMimeType(b, path, MimeTypesFiles())

	info, err := ContentInfo(c, path, b)
	if err != nil {
		return nil, err
	}

	if b.Subtype == "" {
		// Binary files have more than 10% control characters.
		if info.Nulbin == 0 && (info.Lobin == 0 || (info.Lobin+info.Hibin+info.ASCII)/info.Lobin >= 10) {
			b.Type = mime.TypeText
			b.Subtype = "plain"
		} else {
			b.Type = mime.TypeApplication
			b.Subtype = "octet-stream"
		}
	}

	if err := UpdateEncoding(ctx, c, b); err != nil {
		return nil, err
	}
	return b, nil
}

// MakeMessageAttach returns a message/rfc822 part with a copy of message e,
// read from in. Unless attachMsg is set and with MimeForwardDecode
// configured, the message is decoded to text.
func MakeMessageAttach(ctx context.Context, c *mua.Config, in io.ReaderAt, e *email.Email, attachMsg bool) (rb *email.Body, rerr error) {
	f, err := tempFile(c, "mua-forward-*")
	if err != nil {
		return nil, err
	}

	b := email.NewBody()
	b.Type = mime.TypeMessage
	b.Subtype = "rfc822"
	b.Filename = f.Name()
	b.Unlink = true
	b.UseDisp = false
	b.Disposition = mime.DispInline
	b.NoConv = true
	defer func() {
		err := f.Close()
		pkglog.Check(err, "closing forwarded message")
		if rerr != nil {
			b.Free()
		}
	}()

	hflags := msgcopy.HXmit
	var mflags msgcopy.MessageFlags
	security := e.Security
	if !attachMsg && c.Static.MimeForwardDecode {
		hflags |= msgcopy.HMime | msgcopy.HTxtPlain
		mflags = msgcopy.MDecode | msgcopy.MCharConv
		security &^= email.SecEncrypt
	}
	if err := handler.CopyMessage(ctx, c, in, e, f, mflags, hflags, msgcopy.CopyOpts{}, nil); err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContent, err)
	}
	st, err := muaio.NewStream(f)
	if err != nil {
		return nil, err
	}
	b.Email = email.New()
	env, err := parse.ReadHeader(ctx, c, st, b.Email, false, false)
	if err != nil && !errors.Is(err, parse.ErrParse) {
		return nil, err
	}
	b.Email.Env = env
	b.Email.Security = security
	if fi, err := f.Stat(); err == nil {
		b.Email.Body.Length = fi.Size() - b.Email.Body.Offset
	}

	if err := UpdateEncoding(ctx, c, b); err != nil {
		return nil, err
	}
	if b.Email != nil && b.Parts == nil {
		b.Parts = b.Email.Body
	}
	return b, nil
}
