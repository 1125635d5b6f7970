// Package muaio has common i/o functions: positioned line streams for
// parsing, base64 output for MIME bodies and file copying helpers.
package muaio

import (
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("muaio", nil)
