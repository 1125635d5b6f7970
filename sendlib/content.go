package sendlib

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
)

// ContentScanner collects statistics about the bytes written to it. Call
// Finish after the last write.
type ContentScanner struct {
	Info email.Content

	from       bool // Line so far is a prefix of "From".
	dot        bool // Line so far is ".".
	whitespace int
	lineLen    int64
	wasCR      bool
}

func (cs *ContentScanner) endLine() {
	info := &cs.Info
	if cs.whitespace > 0 {
		info.Space = true
	}
	if cs.dot {
		info.Dot = true
	}
	info.LineMax = max(info.LineMax, cs.lineLen)
	cs.whitespace = 0
	cs.dot = false
	cs.lineLen = 0
}

// Write implements io.Writer. It never fails.
func (cs *ContentScanner) Write(buf []byte) (int, error) {
	info := &cs.Info
	for _, ch := range buf {
		if cs.wasCR {
			cs.wasCR = false
			if ch != '\n' {
				info.Binary = true
			} else {
				cs.endLine()
				continue
			}
		}

		cs.lineLen++
		switch {
		case ch == '\n':
			info.CRLF++
			cs.endLine()
			continue
		case ch == '\r':
			info.CRLF++
			info.CR = true
			cs.wasCR = true
			continue
		case ch&0x80 != 0:
			info.Hibin++
		case ch == '\t' || ch == '\f':
			info.ASCII++
			cs.whitespace++
		case ch == 0:
			info.Nulbin++
			info.Lobin++
		case ch < 32 || ch == 127:
			info.Lobin++
		default:
			if cs.lineLen == 1 {
				cs.from = ch == 'F' || ch == 'f'
				cs.dot = ch == '.'
			} else if cs.from {
				switch {
				case cs.lineLen == 2 && ch != 'r', cs.lineLen == 3 && ch != 'o':
					cs.from = false
				case cs.lineLen == 4:
					if ch == 'm' {
						info.From = true
					}
					cs.from = false
				}
			}
			if ch == ' ' {
				cs.whitespace++
			}
			info.ASCII++
		}

		if cs.lineLen > 1 {
			cs.dot = false
		}
		if ch != ' ' && ch != '\t' {
			cs.whitespace = 0
		}
	}
	return len(buf), nil
}

// Finish accounts for the end of the data and returns the statistics.
func (cs *ContentScanner) Finish() *email.Content {
	if cs.wasCR {
		cs.Info.Binary = true
	}
	cs.Info.LineMax = max(cs.Info.LineMax, cs.lineLen)
	info := cs.Info
	return &info
}

// Scan returns the statistics of buf.
func Scan(buf []byte) *email.Content {
	var cs ContentScanner
	cs.Write(buf)
	return cs.Finish()
}

// convertFromTo finds the first charset in froms that data is valid in, and
// the first charset in tos that represents the text without loss. It returns
// the statistics of the text in the chosen charset.
func convertFromTo(data []byte, froms, tos []string) (info *email.Content, from, to string, ok bool) {
	for _, from := range froms {
		if from == "" {
			continue
		}
		s, err := charset.Decode(data, from)
		if err != nil {
			continue
		}
		for _, to := range tos {
			if to == "" {
				continue
			}
			buf, err := charset.Encode(s, to)
			if err != nil {
				continue
			}
			return Scan(buf), from, to, true
		}
	}
	return nil, "", "", false
}

// ContentInfo analyzes the content of the file at path, or of b.Filename if
// path is empty. For text parts that may be converted, the charset parameter
// is set to the first send charset that can represent the text, and
// b.Charset to the charset the file is in.
func ContentInfo(c *mua.Config, path string, b *email.Body) (*email.Content, error) {
	if path == "" && b != nil {
		path = b.Filename
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContent, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrContent, path)
	}

	convert := b != nil && b.Type == mime.TypeText && !b.NoConv && !b.ForceCharset
	if convert {
		chs := b.Params.Value("charset")
		tos := c.SendCharsets()
		if chs != "" {
			tos = []string{chs}
		}
		froms := []string{c.Static.Charset}
		if b.UseDisp && len(c.Static.AttachCharset) > 0 {
			froms = c.Static.AttachCharset
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContent, err)
		}
		if info, from, to, ok := convertFromTo(data, froms, tos); ok {
			if chs == "" {
				b.Params.Set("charset", charset.Canonical(to))
			}
			b.Charset = from
			return info, nil
		}
		pkglog.Debug("no charset conversion for text", slog.String("path", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContent, err)
	}
	defer func() {
		err := f.Close()
		pkglog.Check(err, "closing file")
	}()
	var cs ContentScanner
	if _, err := io.Copy(&cs, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContent, err)
	}
	info := cs.Finish()

	if convert {
		chs := "us-ascii"
		if info.Hibin > 0 {
			chs = "unknown-8bit"
			if !charset.IsASCII(c.Static.Charset) {
				chs = c.Static.Charset
			}
		}
		b.Params.Set("charset", chs)
	}
	return info, nil
}
