package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TZ is the timezone of a parsed date, as offset from UTC.
type TZ struct {
	Hours    int
	Minutes  int
	Occident bool // West of UTC.
}

// Offset returns the timezone offset in seconds.
func (tz TZ) Offset() int {
	o := tz.Hours*3600 + tz.Minutes*60
	if tz.Occident {
		return -o
	}
	return o
}

var months = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// checkMonth returns the month for an abbreviated (or full) English month
// name, or 0.
func checkMonth(s string) time.Month {
	if len(s) < 3 {
		return 0
	}
	s = strings.ToLower(s[:3])
	for i, m := range months {
		if m == s {
			return time.Month(i + 1)
		}
	}
	return 0
}

// Obsolete and common timezone names.
var timezones = map[string]TZ{
	"aat":     {1, 0, true},
	"adt":     {4, 0, false},
	"ast":     {3, 0, false},
	"bst":     {1, 0, false},
	"cat":     {1, 0, false},
	"cdt":     {5, 0, true},
	"cest":    {2, 0, false},
	"cet":     {1, 0, false},
	"cst":     {6, 0, true},
	"eat":     {3, 0, false},
	"edt":     {4, 0, true},
	"eest":    {3, 0, false},
	"eet":     {2, 0, false},
	"egst":    {0, 0, false},
	"egt":     {1, 0, true},
	"est":     {5, 0, true},
	"gmt":     {0, 0, false},
	"gst":     {4, 0, false},
	"hkt":     {8, 0, false},
	"ict":     {7, 0, false},
	"idt":     {3, 0, false},
	"ist":     {2, 0, false},
	"jst":     {9, 0, false},
	"kst":     {9, 0, false},
	"mdt":     {6, 0, true},
	"met":     {1, 0, false},
	"met dst": {2, 0, false},
	"msd":     {4, 0, false},
	"msk":     {3, 0, false},
	"mst":     {7, 0, true},
	"nzdt":    {13, 0, false},
	"nzst":    {12, 0, false},
	"pdt":     {7, 0, true},
	"pst":     {8, 0, true},
	"sat":     {2, 0, false},
	"smt":     {4, 0, false},
	"sst":     {11, 0, true},
	"ut":      {0, 0, false},
	"utc":     {0, 0, false},
	"wat":     {0, 0, false},
	"west":    {1, 0, false},
	"wet":     {0, 0, false},
	"wgst":    {2, 0, true},
	"wgt":     {3, 0, true},
	"wst":     {8, 0, false},
	"z":       {0, 0, false},
}

// Lenient RFC 5322 date: optional day of week, day, month name, 2 or 4 digit
// year, time with optional seconds, numeric or named zone.
var dateRegexp = regexp.MustCompile(`(?i)^\s*(?:[a-z]+\s*,?\s*)?([0-9]{1,2})\s*-?\s*([a-z]+)\.?\s*-?\s*([0-9]{2,4})\s+([0-9]{1,2})\s*:\s*([0-9]{1,2})(?:\s*:\s*([0-9]{1,2}))?(?:\s*([+-][0-9]{4})|\s*\(?([a-z]+(?: dst)?)\)?)?`)

// ParseDate parses a Date header value into unix time and timezone. Two digit
// years below 50 are in the 21st century.
func ParseDate(s string) (int64, TZ, bool) {
	m := dateRegexp.FindStringSubmatch(s)
	if m == nil {
		return -1, TZ{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month := checkMonth(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	min, _ := strconv.Atoi(m[5])
	sec := 0
	if m[6] != "" {
		sec, _ = strconv.Atoi(m[6])
	}
	if day < 1 || day > 31 || month == 0 || hour > 23 || min > 59 || sec > 60 {
		return -1, TZ{}, false
	}
	switch {
	case len(m[3]) <= 2 && year < 50:
		year += 2000
	case len(m[3]) <= 3:
		year += 1900
	}

	var tz TZ
	if m[7] != "" {
		h, _ := strconv.Atoi(m[7][1:3])
		mm, _ := strconv.Atoi(m[7][3:5])
		tz = TZ{h, mm, m[7][0] == '-'}
	} else if m[8] != "" {
		tz = timezones[strings.ToLower(m[8])]
	}

	t := time.Date(year, month, day, hour, min, sec, 0, time.UTC)
	return t.Unix() - int64(tz.Offset()), tz, true
}

// FormatDate formats t for a Date header, e.g. "Mon, 2 Jan 2006 15:04:05 -0700".
func FormatDate(t time.Time) string {
	return t.Format("Mon, 2 Jan 2006 15:04:05 -0700")
}

// LocalTZ returns the local timezone offset in seconds at unix time t.
func LocalTZ(t int64) int {
	_, off := time.Unix(t, 0).Zone()
	return off
}
