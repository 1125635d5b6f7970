package mbox

import (
	"os"
	"syscall"
	"time"
)

// fileAtime returns the access time of the file, or its modification time
// if unavailable.
func fileAtime(fi os.FileInfo) time.Time {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fi.ModTime()
	}
	return time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
}
