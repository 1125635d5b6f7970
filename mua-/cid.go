package mua

import (
	"sync/atomic"
	"time"
)

var cid atomic.Int64

func init() {
	cid.Store(time.Now().UnixMilli())
}

// Cid returns a new unique id for an operation, for use in log lines.
func Cid() int64 {
	return cid.Add(1)
}
