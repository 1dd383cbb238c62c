package period

import (
	"fmt"
	"strings"
)

// RangeSeparator joins the endpoints of an inclusive period range.
const RangeSeparator = ".."

// maxRangeLen bounds a single range so a typo cannot expand to centuries of jobs.
const maxRangeLen = 600

// ParseRange parses "YYYYMM..YYYYMM" into the inclusive, ascending list of
// periods it covers. A bare key is accepted as a range of one.
func ParseRange(s string) ([]Period, error) {
	raw := s
	s = strings.TrimSpace(s)
	if !strings.Contains(s, RangeSeparator) {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		return []Period{p}, nil
	}

	parts := strings.SplitN(s, RangeSeparator, 2)
	from, err := Parse(parts[0])
	if err != nil {
		return nil, &InvalidPeriodError{Input: raw, Reason: "bad range start: " + reasonOf(err)}
	}
	to, err := Parse(parts[1])
	if err != nil {
		return nil, &InvalidPeriodError{Input: raw, Reason: "bad range end: " + reasonOf(err)}
	}
	if to.Before(from) {
		return nil, &InvalidPeriodError{Input: raw, Reason: "range end precedes range start"}
	}

	var out []Period
	for p := from; !to.Before(p); p = p.Next() {
		out = append(out, p)
		if len(out) > maxRangeLen {
			return nil, &InvalidPeriodError{Input: raw, Reason: fmt.Sprintf("range covers more than %d months", maxRangeLen)}
		}
	}
	return out, nil
}

// Input is one entry of a period list after expansion. Err is set when the
// raw text could not be parsed; Period is then the zero value.
type Input struct {
	Raw    string
	Period Period
	Err    error
}

// Expand turns a mixed list of keys and ranges into one Input per period,
// preserving order. Invalid entries produce a single Input carrying the error
// so callers can report them in place.
func Expand(raw []string) []Input {
	out := make([]Input, 0, len(raw))
	for _, r := range raw {
		periods, err := ParseRange(r)
		if err != nil {
			out = append(out, Input{Raw: r, Err: err})
			continue
		}
		for _, p := range periods {
			out = append(out, Input{Raw: r, Period: p})
		}
	}
	return out
}

func reasonOf(err error) string {
	if ipe, ok := err.(*InvalidPeriodError); ok {
		return ipe.Reason
	}
	return err.Error()
}
