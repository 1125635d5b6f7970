package muaio

import (
	"bufio"
	"io"
)

// Stream is a buffered reader over a seekable file that keeps track of the
// file offset of the next unread byte. The parser and the mailbox engines
// need byte-accurate offsets while reading lines, and need to seek back when
// a line turns out not to belong to a header.
type Stream struct {
	f   io.ReadSeeker
	br  *bufio.Reader
	off int64
}

// NewStream returns a Stream starting at the current offset of f.
func NewStream(f io.ReadSeeker) (*Stream, error) {
	off, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	return &Stream{f: f, br: bufio.NewReaderSize(f, 64*1024), off: off}, nil
}

// Offset returns the offset of the next byte to be read.
func (s *Stream) Offset() int64 {
	return s.off
}

// SeekTo positions the stream at absolute offset off, discarding buffered data.
func (s *Stream) SeekTo(off int64) error {
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return err
	}
	s.br.Reset(s.f)
	s.off = off
	return nil
}

// ReadLine reads up to and including the next newline. At the end of the
// file, the remaining bytes are returned without error. Only when no bytes
// are left is io.EOF returned.
func (s *Stream) ReadLine() ([]byte, error) {
	line, err := s.br.ReadBytes('\n')
	s.off += int64(len(line))
	if err == io.EOF && len(line) > 0 {
		err = nil
	}
	return line, err
}

// Peek returns the next n bytes without consuming them. Fewer bytes are
// returned at the end of the file.
func (s *Stream) Peek(n int) []byte {
	buf, _ := s.br.Peek(n)
	return buf
}

func (s *Stream) Read(buf []byte) (int, error) {
	n, err := s.br.Read(buf)
	s.off += int64(n)
	return n, err
}

func (s *Stream) ReadByte() (byte, error) {
	c, err := s.br.ReadByte()
	if err == nil {
		s.off++
	}
	return c, err
}

// Skip discards n bytes.
func (s *Stream) Skip(n int64) error {
	if n <= 0 {
		return nil
	}
	return s.SeekTo(s.off + n)
}
