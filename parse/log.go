package parse

import (
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("parse", nil)
