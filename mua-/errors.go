package mua

import (
	"errors"
)

var ErrConfig = errors.New("config error")
