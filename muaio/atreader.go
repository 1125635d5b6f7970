package muaio

import (
	"io"
)

// AtReader turns an io.ReaderAt into a io.Reader by keeping track of the
// offset. Used to read a message or body part from an open mailbox file
// without moving the file offset shared with the parser.
type AtReader struct {
	R      io.ReaderAt
	Offset int64
}

func (r *AtReader) Read(buf []byte) (int, error) {
	n, err := r.R.ReadAt(buf, r.Offset)
	if n > 0 {
		r.Offset += int64(n)
	}
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Section returns a reader for length bytes at offset of r. A negative
// length reads until EOF.
func Section(r io.ReaderAt, offset, length int64) io.Reader {
	if length < 0 {
		return &AtReader{R: r, Offset: offset}
	}
	return io.LimitReader(&AtReader{R: r, Offset: offset}, length)
}
