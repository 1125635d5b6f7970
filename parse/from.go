package parse

import (
	"strconv"
	"strings"
	"time"
)

// IsFrom checks whether line is an mbox "From " separator, e.g.:
//
//	From alice@example.org Mon Jan  1 10:00:00 2001
//
// It returns the envelope sender (possibly empty) and the time of the line,
// interpreted as local time.
func IsFrom(line string) (returnPath string, t int64, ok bool) {
	if !strings.HasPrefix(line, "From ") {
		return "", 0, false
	}
	s := strings.TrimLeft(line[5:], " \t")
	s = strings.TrimRight(s, "\r\n")

	if !isDayName(s) {
		// Return path, possibly quoted.
		if strings.HasPrefix(s, "\"") {
			i := 1
			for ; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' {
					i++
				}
			}
			if i >= len(s) {
				return "", 0, false
			}
			i++
			j := strings.IndexAny(s[i:], " \t")
			if j < 0 {
				return "", 0, false
			}
			returnPath = s[:i+j]
			s = s[i+j:]
		} else {
			i := strings.IndexAny(s, " \t")
			if i < 0 {
				return "", 0, false
			}
			returnPath = s[:i]
			s = s[i:]
		}
		s = strings.TrimLeft(s, " \t")
		// Some mailers write "From user at host Mon ...".
		if strings.HasPrefix(s, "at ") {
			s = strings.TrimLeft(s[3:], " \t")
			if i := strings.IndexAny(s, " \t"); i >= 0 {
				returnPath += "@" + s[:i]
				s = strings.TrimLeft(s[i:], " \t")
			}
		}
		if !isDayName(s) {
			return "", 0, false
		}
	}

	f := strings.Fields(s[3:])
	if len(f) < 4 {
		return "", 0, false
	}
	month := checkMonth(f[0])
	if month == 0 {
		return "", 0, false
	}
	day, err := strconv.Atoi(f[1])
	if err != nil || day < 1 || day > 31 {
		return "", 0, false
	}
	tp := strings.Split(f[2], ":")
	if len(tp) < 2 || len(tp) > 3 {
		return "", 0, false
	}
	var hms [3]int
	for i, x := range tp {
		v, err := strconv.Atoi(x)
		if err != nil {
			return "", 0, false
		}
		hms[i] = v
	}
	if hms[0] > 23 || hms[1] > 59 || hms[2] > 60 {
		return "", 0, false
	}
	// Timezone names or offsets may come before the year.
	f = f[3:]
	var year int
	for len(f) > 0 {
		if y, err := strconv.Atoi(f[0]); err == nil && len(f[0]) >= 2 && f[0][0] != '+' && f[0][0] != '-' {
			year = y
			break
		}
		f = f[1:]
	}
	if len(f) == 0 {
		return "", 0, false
	}
	if year < 50 {
		year += 2000
	} else if year < 1000 {
		year += 1900
	}
	tm := time.Date(year, month, day, hms[0], hms[1], hms[2], 0, time.Local)
	return returnPath, tm.Unix(), true
}

var dayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func isDayName(s string) bool {
	if len(s) < 4 || (s[3] != ' ' && s[3] != '\t') {
		return false
	}
	d := strings.ToLower(s[:3])
	for _, n := range dayNames {
		if n == d {
			return true
		}
	}
	return false
}

// FromLine returns an mbox separator line for sender at time t, including the
// newline.
func FromLine(sender string, t time.Time) string {
	if sender == "" {
		sender = "MAILER-DAEMON"
	}
	return "From " + sender + " " + t.Format(time.ANSIC) + "\n"
}
