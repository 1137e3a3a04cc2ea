package command

import (
	"strings"

	appLog "evcal/internal/log"
)

// Navigator is the part of the calendar widget driven by commands.
type Navigator interface {
	ChangeView(view string)
	Today()
	Prev()
	Next()
	Title() string
}

// Reporter receives the view title after a command ran.
type Reporter func(title string)

const (
	Month = "month"
	Week  = "week"
	Day   = "day"
	List  = "list"
	Today = "today"
	Prev  = "prev"
	Next  = "next"

	// nullSentinel is what an unset attribute serializes to.
	nullSentinel = "null"
)

// Channel executes one-shot view commands set by the remote authority.
// The slot is cleared after every command, recognized or not, so a
// re-delivery of the same value never triggers twice.
type Channel struct {
	nav    Navigator
	report Reporter
	// views maps command names to widget view names.
	views map[string]string
	slot  string
}

// New builds a Channel. views maps the enabled view commands ("month",
// "week", ...) to widget view names; commands for views not listed are
// treated as unknown.
func New(nav Navigator, views map[string]string, report Reporter) *Channel {
	vs := make(map[string]string, len(views))
	for k, v := range views {
		vs[k] = v
	}
	return &Channel{nav: nav, views: vs, report: report}
}

// Slot returns the pending command value ("" once processed).
func (c *Channel) Slot() string {
	return c.slot
}

// Set stores cmd in the slot and processes it. It reports whether a
// navigation primitive ran.
func (c *Channel) Set(cmd string) bool {
	c.slot = cmd
	return c.process()
}

func (c *Channel) process() bool {
	cmd := strings.TrimSpace(c.slot)
	c.slot = ""

	if cmd == "" || cmd == nullSentinel {
		return false
	}

	switch cmd {
	case Today:
		c.nav.Today()
	case Prev:
		c.nav.Prev()
	case Next:
		c.nav.Next()
	default:
		view, ok := c.views[cmd]
		if !ok {
			appLog.Debug("command: ignoring unknown command", "command", cmd)
			return false
		}
		c.nav.ChangeView(view)
	}

	if c.report != nil {
		c.report(c.nav.Title())
	}
	return true
}
