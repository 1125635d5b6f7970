package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
)

// parse reads the messages in f starting at offset start, adding them to m.
// The size and modification time of the file are stored in m. It returns the
// number of messages added.
func (s Store) parse(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, f *os.File, start int64) (int, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	m.Size = fi.Size()
	m.Mtime = fi.ModTime()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	st, err := muaio.NewStream(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	if s.typ == mailbox.TypeMMDF {
		return s.parseMMDF(ctx, c, m, f, st)
	}
	return s.parseMbox(ctx, c, m, f, st)
}

// readHeader parses the header at the current position of st into e. Parse
// errors are not fatal, the header up to the error is kept.
func readHeader(ctx context.Context, c *mua.Config, st *muaio.Stream, e *email.Email) error {
	env, err := parse.ReadHeader(ctx, c, st, e, false, false)
	e.Env = env
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	} else if err != nil && !errors.Is(err, parse.ErrParse) {
		return fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	return nil
}

// fixReturnPath sets the return path from the separator line if the header
// had none, and uses it as From when that is missing.
func fixReturnPath(e *email.Email, returnPath string) {
	env := e.Env
	if len(env.ReturnPath) == 0 && returnPath != "" {
		env.ReturnPath = address.Parse(returnPath)
	}
	if len(env.From) == 0 {
		env.From = env.ReturnPath.Copy(false)
	}
}

// countLines returns the number of newlines in the n bytes at offset off.
func countLines(f io.ReaderAt, off, n int64) (int, error) {
	r := muaio.Section(f, off, n)
	buf := make([]byte, 32*1024)
	lines := 0
	for {
		k, err := r.Read(buf)
		lines += bytes.Count(buf[:k], []byte{'\n'})
		if err == io.EOF {
			return lines, nil
		} else if err != nil {
			return lines, err
		}
	}
}

func (s Store) parseMbox(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, f *os.File, st *muaio.Stream) (int, error) {
	log := pkglog.WithContext(ctx).With(slog.String("path", m.Path))

	count := 0
	lines := 0
	var last *email.Email

	// finish sets the length and line count of the previous message if its
	// header did not provide a valid one. The blank line before the next
	// separator is not part of the message.
	finish := func(end int64) {
		b := last.Body
		if b.Length < 0 {
			b.Length = max(end-b.Offset-1, 0)
		}
		if last.Lines == 0 && lines > 0 {
			last.Lines = lines - 1
		}
	}

	loc := st.Offset()
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		line, err := st.ReadLine()
		if err == io.EOF {
			break
		} else if err != nil {
			return count, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}
		returnPath, t, ok := parse.IsFrom(string(line))
		if !ok {
			lines++
			loc = st.Offset()
			continue
		}

		if count > 0 {
			finish(loc)
		}
		count++

		e := email.New()
		e.Received = t
		e.Offset = loc
		if err := readHeader(ctx, c, st, e); err != nil {
			e.Free()
			return count - 1, err
		}

		// A Content-Length is trusted if another separator, or the end of the
		// file, follows the content.
		if e.Body.Length > 0 {
			bodyLoc := st.Offset()
			next := int64(-1)
			if e.Body.Length < m.Size {
				next = bodyLoc + e.Body.Length + 1
			}
			if next > 0 && next < m.Size {
				if !s.separator(f, next) {
					log.Debug("bad content-length", slog.Int("index", m.MsgCount()), slog.Int64("length", e.Body.Length))
					e.Body.Length = -1
				}
			} else if next != m.Size {
				e.Body.Length = -1
			}

			if e.Body.Length != -1 {
				if e.Lines == 0 {
					n, err := countLines(f, bodyLoc, e.Body.Length)
					if err != nil {
						e.Free()
						return count - 1, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
					}
					e.Lines = n
				}
				if err := st.SeekTo(next); err != nil {
					e.Free()
					return count - 1, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
				}
			}
		}

		fixReturnPath(e, returnPath)
		m.Add(e)
		last = e
		lines = 0
		loc = st.Offset()
	}

	// Only messages read now are finished, an earlier last message may have
	// been modified in memory.
	if count > 0 {
		finish(st.Offset())
	}
	return count, nil
}

func (s Store) parseMMDF(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, f *os.File, st *muaio.Stream) (int, error) {
	log := pkglog.WithContext(ctx).With(slog.String("path", m.Path))

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		sepOff := st.Offset()
		line, err := st.ReadLine()
		if err == io.EOF {
			break
		} else if err != nil {
			return count, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}
		if string(line) != MMDFSep {
			return count, fmt.Errorf("%w: mailbox is corrupt at offset %d", mailbox.ErrFormat, sepOff)
		}

		loc := st.Offset()
		e := email.New()
		e.Offset = loc

		line, err = st.ReadLine()
		if err != nil {
			// The message is not added, so it must be released here.
			e.Free()
			if err == io.EOF {
				log.Debug("unexpected end of mailbox after separator", slog.Int64("offset", loc))
				break
			}
			return count, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}
		returnPath, t, ok := parse.IsFrom(string(line))
		if ok {
			e.Received = t
		} else if err := st.SeekTo(loc); err != nil {
			e.Free()
			return count, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}

		if err := readHeader(ctx, c, st, e); err != nil {
			e.Free()
			return count, err
		}

		loc = st.Offset()
		if e.Body.Length > 0 && e.Lines > 0 {
			next := loc + e.Body.Length
			if next > 0 && next < m.Size && s.separator(f, next) {
				if err := st.SeekTo(next + int64(len(MMDFSep))); err != nil {
					e.Free()
					return count, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
				}
			} else {
				e.Body.Length = -1
			}
		} else {
			e.Body.Length = -1
		}

		if e.Body.Length < 0 {
			n := -1
			for {
				loc = st.Offset()
				line, err := st.ReadLine()
				if err == io.EOF {
					break
				} else if err != nil {
					e.Free()
					return count, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
				}
				n++
				if string(line) == MMDFSep {
					break
				}
			}
			e.Lines = n
			e.Body.Length = loc - e.Body.Offset
		}

		fixReturnPath(e, returnPath)
		m.Add(e)
		count++
	}
	return count, nil
}
