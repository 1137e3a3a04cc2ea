package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// maxScan bounds the instants Between walks from the anchor, including
// those before the window.
const maxScan = 100_000

var (
	// ErrInvalidRule is wrapped by every ParseError.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrScanLimit is returned by Between when reaching the window takes
	// more than maxScan instants.
	ErrScanLimit = errors.New("recurrence: scan limit reached")
)

// ParseError reports a recurrence grammar string or anchor that could not be
// turned into a Rule.
type ParseError struct {
	Rule string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recurrence: parse %q: %v", e.Rule, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrInvalidRule, e.Err}
}

// Rule enumerates occurrence start instants of a recurring event.
type Rule struct {
	raw    string
	anchor time.Time
	until  time.Time
	count  int
	rr     *rrule.RRule
}

// Parse builds a Rule from an RFC 5545 RRULE value ("FREQ=WEEKLY;BYDAY=MO",
// with or without the "RRULE:" prefix, in any letter case). The anchor replaces any DTSTART and
// a non-zero until replaces any UNTIL embedded in the string.
func Parse(raw string, anchor, until time.Time) (*Rule, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, &ParseError{Rule: raw, Err: errors.New("empty rule")}
	}
	if anchor.IsZero() {
		return nil, &ParseError{Rule: raw, Err: errors.New("missing anchor")}
	}
	body = strings.TrimPrefix(strings.ToUpper(body), "RRULE:")

	opt, err := rrule.StrToROption(body)
	if err != nil {
		return nil, &ParseError{Rule: raw, Err: err}
	}
	opt.Dtstart = anchor
	if !until.IsZero() {
		if until.Before(anchor) {
			return nil, &ParseError{Rule: raw, Err: errors.New("until before anchor")}
		}
		opt.Until = until
	}

	rr, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &ParseError{Rule: raw, Err: err}
	}

	return &Rule{raw: raw, anchor: anchor, until: opt.Until, count: opt.Count, rr: rr}, nil
}

// Between returns every occurrence start in [start, end], both bounds
// inclusive, in ascending order. At most limit instants are returned when
// limit > 0; truncated reports whether more existed. It fails with
// ErrScanLimit when the rule is too dense to reach the window.
func (r *Rule) Between(start, end time.Time, limit int) (out []time.Time, truncated bool, err error) {
	if end.Before(start) {
		return nil, false, nil
	}
	// Results are reported in the anchor's location.
	loc := r.anchor.Location()
	next := r.rr.Iterator()

	t, ok := next()
	// The anchor is always the first occurrence, even when it does not
	// match the BY* parts of the rule. It then takes one COUNT slot.
	remaining := -1
	if !ok || t.After(r.anchor) {
		if !r.anchor.Before(start) && !r.anchor.After(end) {
			out = append(out, r.anchor)
		}
		if r.count > 0 {
			remaining = r.count - 1
		}
	}

	scanned := 0
	for ; ok && !t.After(end) && remaining != 0; t, ok = next() {
		scanned++
		if scanned > maxScan {
			return nil, false, fmt.Errorf("%w after %d instants of %q", ErrScanLimit, maxScan, r.raw)
		}
		if remaining > 0 {
			remaining--
		}
		if t.Before(start) {
			continue
		}
		if limit > 0 && len(out) == limit {
			return out, true, nil
		}
		out = append(out, t.In(loc))
	}
	return out, false, nil
}

// Anchor returns the first candidate instant (the owning event's start).
func (r *Rule) Anchor() time.Time {
	return r.anchor
}

// Until returns the inclusive upper bound, zero when unbounded.
func (r *Rule) Until() time.Time {
	return r.until
}

func (r *Rule) String() string {
	return r.raw
}
