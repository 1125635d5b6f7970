package message

import (
	"io"
)

// Writer is a write-through helper that collects properties of the written
// message. With CRLF set, bare \n line endings are replaced with \r\n, as
// needed for SMTP.
type Writer struct {
	writer io.Writer
	crlf   bool
	last   byte

	Has8bit bool  // Whether a byte with the high bit set was written, requiring 8BITMIME.
	Size    int64 // Number of bytes written, including added carriage returns.
	Lines   int64 // Number of line endings written.
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer, crlf bool) *Writer {
	return &Writer{writer: w, crlf: crlf}
}

func (w *Writer) write(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := w.writer.Write(buf)
	w.Size += int64(n)
	return err
}

// Write implements io.Writer. The returned count is of bytes from buf.
func (w *Writer) Write(buf []byte) (int, error) {
	if !w.Has8bit {
		for _, b := range buf {
			if b&0x80 != 0 {
				w.Has8bit = true
				break
			}
		}
	}

	o := 0
	for i, b := range buf {
		if b != '\n' {
			continue
		}
		w.Lines++
		prev := w.last
		if i > 0 {
			prev = buf[i-1]
		}
		if !w.crlf || prev == '\r' {
			continue
		}
		if err := w.write(buf[o:i]); err != nil {
			return o, err
		}
		if err := w.write([]byte{'\r', '\n'}); err != nil {
			return i, err
		}
		o = i + 1
	}
	if err := w.write(buf[o:]); err != nil {
		return o, err
	}
	if len(buf) > 0 {
		w.last = buf[len(buf)-1]
	}
	return len(buf), nil
}
