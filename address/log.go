package address

import (
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("address", nil)
