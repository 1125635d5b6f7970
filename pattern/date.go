package pattern

import (
	"strconv"
	"strings"
	"time"
)

// tm is a broken down local time whose fields can be set independently, and
// are normalized when converted to a time.Time.
type tm struct {
	year, mon, mday int // mon is 1-12.
	hour, min, sec  int
}

func fromTime(t time.Time) tm {
	t = t.Local()
	return tm{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()}
}

func (t tm) time() time.Time {
	return time.Date(t.year, time.Month(t.mon), t.mday, t.hour, t.min, t.sec, 0, time.Local)
}

func (t *tm) startOfDay() {
	t.hour, t.min, t.sec = 0, 0, 0
}

func (t *tm) endOfDay() {
	t.hour, t.min, t.sec = 23, 59, 59
}

func (t *tm) setDate(o tm) {
	t.year, t.mon, t.mday = o.year, o.mon, o.mday
}

// leadingInt parses an optionally signed decimal number at the start of s,
// after white space. It returns the remainder, or s if there is no number.
func leadingInt(s string) (int, string) {
	t := strings.TrimLeft(s, " \t")
	i := 0
	if i < len(t) && (t[i] == '+' || t[i] == '-') {
		i++
	}
	j := i
	for j < len(t) && t[j] >= '0' && t[j] <= '9' {
		j++
	}
	if j == i {
		return 0, s
	}
	v, err := strconv.Atoi(t[:j])
	if err != nil {
		return 0, s
	}
	return v, t[j:]
}

// offset applies a relative offset like "3d" to t, with the sign forced to
// sign. It returns the remainder, or s if there is no valid offset.
func offset(t *tm, s string, sign int) string {
	n, rest := leadingInt(s)
	if (sign < 0 && n > 0) || (sign > 0 && n < 0) {
		n = -n
	}
	if rest == "" {
		return s
	}
	switch rest[0] {
	case 'y':
		t.year += n
	case 'm':
		t.mon += n
	case 'w':
		t.mday += 7 * n
	case 'd':
		t.mday += n
	case 'H':
		t.hour += n
	case 'M':
		t.min += n
	case 'S':
		t.sec += n
	default:
		return s
	}
	*t = fromTime(t.time())
	return rest[1:]
}

// absDate parses an absolute date into the date fields of t: "YYYYMMDD" or
// "D[/M[/Y]]", with missing parts from now. It returns the remainder.
func absDate(s string, t *tm, now tm) (string, error) {
	iso := len(s) >= 8
	for i := 0; iso && i < 8; i++ {
		iso = s[i] >= '0' && s[i] <= '9'
	}
	if iso {
		t.year, _ = strconv.Atoi(s[0:4])
		t.mon, _ = strconv.Atoi(s[4:6])
		t.mday, _ = strconv.Atoi(s[6:8])
		if t.mday < 1 || t.mday > 31 {
			return "", syntaxErrorf("invalid day of month: %s", s)
		}
		if t.mon < 1 || t.mon > 12 {
			return "", syntaxErrorf("invalid month: %s", s)
		}
		return s[8:], nil
	}

	mday, p := leadingInt(s)
	if p == s || mday < 1 || mday > 31 {
		return "", syntaxErrorf("invalid day of month: %s", s)
	}
	t.mday = mday
	if !strings.HasPrefix(p, "/") {
		t.mon, t.year = now.mon, now.year
		return p, nil
	}
	p = p[1:]
	mon, q := leadingInt(p)
	if q == p || mon < 1 || mon > 12 {
		return "", syntaxErrorf("invalid month: %s", p)
	}
	t.mon = mon
	if !strings.HasPrefix(q, "/") {
		t.year = now.year
		return q, nil
	}
	q = q[1:]
	year, r := leadingInt(q)
	switch {
	case year < 70:
		year += 2000
	case year <= 1900:
		year += 1900
	}
	t.year = year
	return r, nil
}

// relRange parses the relative part of a date range after an optional
// minimum: "-DATE" or "-N[ymwdHMS]" to extend backwards, "+N" forwards and
// "*N" in both directions.
func relRange(s string, min, max *tm, haveMin bool, baseMin, now tm) error {
	const (
		minus = 1 << iota
		plus
		window
		absolute
		done
		failed
	)
	flags := 0
	for s != "" && flags&(done|failed) == 0 {
		ch := s[0]
		s = strings.TrimLeft(s[1:], " \t")
		switch ch {
		case '-':
			t := offset(min, s, -1)
			if t == s {
				if flags != 0 {
					flags |= failed
					break
				}
				if _, err := absDate(s, max, now); err != nil {
					return err
				}
				if !haveMin {
					*min = baseMin
				}
				flags |= absolute | done
				break
			}
			s = t
			if flags == 0 && !haveMin {
				max.setDate(*min)
			}
			flags |= minus
		case '+':
			t := offset(max, s, 1)
			if t == s {
				flags |= failed
				break
			}
			s = t
			flags |= plus
		case '*':
			t := offset(min, s, -1)
			if t == s {
				flags |= failed
				break
			}
			s = offset(max, s, 1)
			flags |= window
		default:
			flags |= failed
		}
		s = strings.TrimLeft(s, " \t")
	}
	if flags&failed != 0 {
		return syntaxErrorf("invalid relative date: %s", s)
	}
	return nil
}

// dateRange returns the inclusive time range for a date pattern argument.
//
// Forms: "<3d" (less than 3 days ago), ">3d" (more than 3 days ago), "=3d"
// (on the day 3 days ago), "DATE" (on that day), "DATE-" (since), "-DATE"
// (until), "DATE-DATE", and a date with relative extensions like
// "1/1/2024*2w". Offsets take units y, m, w, d, H, M and S.
func dateRange(s string, now time.Time) (time.Time, time.Time, error) {
	tnow := fromTime(now)

	// Not Jan 1 1970, so the range does not go negative in time zones east
	// of UTC.
	min := tm{1970, 1, 2, 0, 0, 0}
	max := tm{2037, 12, 31, 23, 59, 59}

	if s != "" && strings.IndexByte("<>=", s[0]) >= 0 {
		var t *tm
		exact := false
		if s[0] == '<' {
			min = tnow
			t = &min
		} else {
			max = tnow
			t = &max
			exact = s[0] == '='
		}
		_, rest := leadingInt(s[1:])
		if rest == "" || strings.IndexByte("HMS", rest[0]) < 0 {
			t.endOfDay()
		}
		offset(t, s[1:], -1)
		if exact {
			min = max
			min.startOfDay()
		}
	} else {
		pc := s
		haveMin := false
		untilNow := false
		if pc != "" && pc[0] >= '0' && pc[0] <= '9' {
			var err error
			pc, err = absDate(pc, &min, tnow)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			haveMin = true
			pc = strings.TrimLeft(pc, " \t")
			if strings.HasPrefix(pc, "-") {
				untilNow = strings.TrimLeft(pc[1:], " \t") == ""
			}
		}
		if !untilNow {
			var baseMin tm
			if !haveMin {
				baseMin = min
				min = tnow
				min.startOfDay()
			}
			// Without a range, match the single day.
			max.setDate(min)
			if err := relRange(pc, &min, &max, haveMin, baseMin, tnow); err != nil {
				return time.Time{}, time.Time{}, err
			}
		}
	}

	// Two dates can be given in either order.
	if min.year > max.year ||
		(min.year == max.year && min.mon > max.mon) ||
		(min.year == max.year && min.mon == max.mon && min.mday > max.mday) {
		minDate := min
		min.setDate(max)
		max.setDate(minDate)
		min.startOfDay()
		max.endOfDay()
	}
	return min.time(), max.time(), nil
}
