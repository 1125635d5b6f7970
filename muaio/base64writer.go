package muaio

import (
	"encoding/base64"
	"io"
)

// implement io.Closer
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// Base64Writer turns a writer for data into one that writes base64 content on
// \n separated lines of max 72 characters length. The final line is always
// terminated with a newline, also when empty data was written.
func Base64Writer(w io.Writer) io.WriteCloser {
	lw := &lineWrapper{w: w, max: 72}
	bw := base64.NewEncoder(base64.StdEncoding, lw)
	return struct {
		io.Writer
		io.Closer
	}{
		Writer: bw,
		Closer: closerFunc(func() error {
			if err := bw.Close(); err != nil {
				return err
			}
			return lw.Close()
		}),
	}
}

type lineWrapper struct {
	w     io.Writer
	max   int
	n     int // Written on current line.
	wrote bool
}

func (lw *lineWrapper) Write(buf []byte) (int, error) {
	wrote := 0
	for len(buf) > 0 {
		n := lw.max - lw.n
		if n > len(buf) {
			n = len(buf)
		}
		nn, err := lw.w.Write(buf[:n])
		if nn > 0 {
			wrote += nn
			buf = buf[nn:]
			lw.wrote = true
		}
		if err != nil {
			return wrote, err
		}
		lw.n += nn
		if lw.n == lw.max {
			_, err := lw.w.Write([]byte("\n"))
			if err != nil {
				return wrote, err
			}
			lw.n = 0
		}
	}
	return wrote, nil
}

func (lw *lineWrapper) Close() error {
	if lw.n > 0 || !lw.wrote {
		lw.n = 0
		lw.wrote = true
		_, err := lw.w.Write([]byte("\n"))
		return err
	}
	return nil
}
