// Package period models the calendar months that hpbatch processes.
//
// A Period is one year+month pair. Its canonical key is the zero-padded
// YYYYMM form used for job names and data directory names alike:
//
//	period.Period{Year: 2022, Month: 1}.Key() == "202201"
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPeriod indicates a malformed year or month.
var ErrInvalidPeriod = errors.New("invalid period")

// InvalidPeriodError describes why an input could not be used as a Period.
type InvalidPeriodError struct {
	// Input is the raw text, or the formatted struct when no text was involved.
	Input string

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period %q: %s", e.Input, e.Reason)
}

// Unwrap returns ErrInvalidPeriod for errors.Is support.
func (e *InvalidPeriodError) Unwrap() error {
	return ErrInvalidPeriod
}

// IsInvalid returns true if the error indicates a malformed period.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidPeriod)
}

const (
	minYear = 1
	maxYear = 9999
)

// Period is one calendar month. The zero value is not valid.
type Period struct {
	Year  int
	Month int
}

// New returns a validated Period.
func New(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks month ∈ [1,12] and that the year fits the four digit key.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return &InvalidPeriodError{
			Input:  fmt.Sprintf("year=%d month=%d", p.Year, p.Month),
			Reason: "month must be between 1 and 12",
		}
	}
	if p.Year < minYear || p.Year > maxYear {
		return &InvalidPeriodError{
			Input:  fmt.Sprintf("year=%d month=%d", p.Year, p.Month),
			Reason: fmt.Sprintf("year must be between %d and %d", minYear, maxYear),
		}
	}
	return nil
}

// Key returns the canonical YYYYMM form.
func (p Period) Key() string {
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

// String implements fmt.Stringer.
func (p Period) String() string {
	return p.Key()
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// Parse parses a YYYYMM key.
func Parse(s string) (Period, error) {
	raw := s
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return Period{}, &InvalidPeriodError{Input: raw, Reason: "expected six digits YYYYMM"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Period{}, &InvalidPeriodError{Input: raw, Reason: "expected six digits YYYYMM"}
		}
	}

	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[4:])
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		var ipe *InvalidPeriodError
		if errors.As(err, &ipe) {
			return Period{}, &InvalidPeriodError{Input: raw, Reason: ipe.Reason}
		}
		return Period{}, err
	}
	return p, nil
}

// MustParse is Parse for constants and tests; it panics on invalid input.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
