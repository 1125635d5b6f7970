//go:build !linux

package mbox

import (
	"os"
	"time"
)

func fileAtime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}
