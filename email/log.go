package email

import (
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("email", nil)
