// Package sendlib prepares composed messages for sending: it analyzes part
// content to pick a charset and content-transfer-encoding, converts parts to
// 7-bit, and writes message headers and MIME bodies.
package sendlib

import (
	"errors"
	"fmt"

	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("sendlib", nil)

var (
	// ErrWrite is returned when writing a message failed.
	ErrWrite = errors.New("sendlib: writing message")

	// ErrContent is returned when the content of a part could not be read.
	ErrContent = errors.New("sendlib: reading part content")

	// ErrNoBoundary is returned for multiparts without boundary parameter.
	ErrNoBoundary = errors.New("sendlib: multipart without boundary")
)

// xcheckf panics with an error wrapping ErrWrite if err is set. Exported
// functions recover with recoverWrite.
func xcheckf(err error, format string, args ...any) {
	if err != nil {
		panic(fmt.Errorf("%w: %s: %w", ErrWrite, fmt.Sprintf(format, args...), err))
	}
}

func recoverWrite(rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	if err, ok := x.(error); ok && errors.Is(err, ErrWrite) {
		*rerr = err
		return
	}
	panic(x)
}
