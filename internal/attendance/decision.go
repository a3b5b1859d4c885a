package attendance

import (
	"fmt"
	"time"
)

// Kind tags the outcome of evaluating a scan.
type Kind int

const (
	// CheckIn created a new session (and the day's record if needed).
	CheckIn Kind = iota + 1
	// AlreadyActive means the student is logged in to this section; Session is set.
	AlreadyActive
	// CooldownBlocked means a recent logout still blocks this section; RemainingSeconds is set.
	CooldownBlocked
	// AlreadyCheckedInToday is an informational success, nothing was written.
	AlreadyCheckedInToday
	// NoSectionSelected means the device has no section to scan into.
	NoSectionSelected
	// Busy means the device is still handling a previous scan; the scan was dropped.
	Busy
	// TimedOut closed an open record in another section (auto-timeout mode only).
	TimedOut
)

var kindNames = map[Kind]string{
	CheckIn:               "check_in",
	AlreadyActive:         "already_active",
	CooldownBlocked:       "cooldown_blocked",
	AlreadyCheckedInToday: "already_checked_in_today",
	NoSectionSelected:     "no_section_selected",
	Busy:                  "busy",
	TimedOut:              "timed_out",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Decision is the result of Engine.Evaluate. Which payload fields are set
// depends on Kind.
type Decision struct {
	Kind             Kind              `json:"decision"`
	StudentID        string            `json:"student_id,omitempty"`
	SectionID        string            `json:"section_id,omitempty"`
	Date             string            `json:"date,omitempty"`
	Session          *Session          `json:"session,omitempty"`
	Record           *AttendanceRecord `json:"record,omitempty"`
	RemainingSeconds int               `json:"remaining_seconds,omitempty"`
	CooldownUntil    *time.Time        `json:"cooldown_until,omitempty"`
}

// Message is a short human readable summary for scanner feedback.
func (d Decision) Message() string {
	switch d.Kind {
	case CheckIn:
		return "attendance recorded"
	case AlreadyActive:
		return "already logged in to this section, logout first"
	case CooldownBlocked:
		return fmt.Sprintf("cooldown: wait %ds", d.RemainingSeconds)
	case AlreadyCheckedInToday:
		return "already checked in"
	case NoSectionSelected:
		return "select a section first"
	case Busy:
		return "processing previous scan"
	case TimedOut:
		return "time out recorded"
	}
	return d.Kind.String()
}

// LogoutOutcome tags the result of Engine.Logout.
type LogoutOutcome int

const (
	// LogoutSuccess closed the session and started its cooldown.
	LogoutSuccess LogoutOutcome = iota + 1
	// LogoutTooEarly means the hold window has not elapsed; RemainingSeconds is set.
	LogoutTooEarly
)

func (o LogoutOutcome) String() string {
	switch o {
	case LogoutSuccess:
		return "success"
	case LogoutTooEarly:
		return "too_early"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON.
func (o LogoutOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// LogoutResult is the result of Engine.Logout.
type LogoutResult struct {
	Outcome          LogoutOutcome `json:"outcome"`
	Session          Session       `json:"session"`
	RemainingSeconds int           `json:"remaining_seconds,omitempty"`
}
