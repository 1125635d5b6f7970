package flowed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/muacore/mua/email"
)

// Stuff copies text from r to w, adding a space before lines that start with
// a space or "From ".
func Stuff(r io.Reader, w io.Writer) error {
	return stuff(r, w, false)
}

// Unstuff copies text from r to w, removing a leading space from lines.
func Unstuff(r io.Reader, w io.Writer) error {
	return stuff(r, w, true)
}

func stuff(r io.Reader, w io.Writer, unstuff bool) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if line == "" {
			break
		}
		line = strings.TrimSuffix(line, "\n")
		if unstuff {
			line = strings.TrimPrefix(line, " ")
		} else if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "From ") {
			bw.WriteByte(' ')
		}
		bw.WriteString(line)
		bw.WriteByte('\n')
		if err != nil {
			break
		}
	}
	return bw.Flush()
}

// StuffFile rewrites the file at path in place, space-stuffing or unstuffing
// its lines. The modification time is kept.
func StuffFile(path string, unstuff bool) (rerr error) {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err := f.Close()
		pkglog.Check(err, "closing file")
	}()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".flowed-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if tmp != nil {
			err := tmp.Close()
			pkglog.Check(err, "closing temp file")
			err = os.Remove(tmp.Name())
			pkglog.Check(err, "removing temp file")
		}
	}()
	if err := stuff(f, tmp, unstuff); err != nil {
		return err
	}
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	name := tmp.Name()
	tmp = nil
	if err := os.Chtimes(name, fi.ModTime(), fi.ModTime()); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// StuffEmail space-stuffs the file of the main body of e if it is
// format=flowed.
func StuffEmail(e *email.Email) error {
	if e == nil || e.Body == nil || e.Body.Filename == "" || !IsFlowed(e.Body) {
		return nil
	}
	return StuffFile(e.Body.Filename, false)
}

// UnstuffEmail reverses StuffEmail.
func UnstuffEmail(e *email.Email) error {
	if e == nil || e.Body == nil || e.Body.Filename == "" || !IsFlowed(e.Body) {
		return nil
	}
	return StuffFile(e.Body.Filename, true)
}

// UnstuffAttachment unstuffs filename holding the content of b. A nil b is
// treated as flowed.
func UnstuffAttachment(b *email.Body, filename string) error {
	if filename == "" || b != nil && !IsFlowed(b) {
		return nil
	}
	return StuffFile(filename, true)
}

// StuffAttachment is the reverse of UnstuffAttachment.
func StuffAttachment(b *email.Body, filename string) error {
	if filename == "" || b != nil && !IsFlowed(b) {
		return nil
	}
	return StuffFile(filename, false)
}
