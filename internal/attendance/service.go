package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattendance/internal/cooldown"
	"qrattendance/internal/qrpayload"
	"qrattendance/internal/section"
)

// Mode selects how a scan by an already checked-in student is handled.
type Mode string

const (
	// ModeLogout requires an explicit logout; scans never time a student out.
	ModeLogout Mode = "logout"
	// ModeAutoTimeout times out the open record in another section on the next scan.
	ModeAutoTimeout Mode = "auto-timeout"
)

// Reentry selects what happens once a closed session's cooldown lapses.
type Reentry string

const (
	// ReentryAfterCooldown lets the student start a new session in the section.
	ReentryAfterCooldown Reentry = "after-cooldown"
	// ReentryOncePerDay reports AlreadyCheckedInToday for any later scan that day.
	ReentryOncePerDay Reentry = "once-per-day"
)

// DateLayout is the calendar date format stored on records and sessions.
const DateLayout = "2006-01-02"

// Options tunes the engine.
type Options struct {
	Cooldown       time.Duration
	MinHold        time.Duration
	RescanThrottle time.Duration
	Mode           Mode
	Reentry        Reentry
	// Location anchors the calendar date of a scan.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Minute
	}
	if o.MinHold <= 0 {
		o.MinHold = cooldown.DefaultMinHold
	}
	if o.RescanThrottle <= 0 {
		o.RescanThrottle = 60 * time.Second
	}
	if o.Mode == "" {
		o.Mode = ModeLogout
	}
	if o.Reentry == "" {
		o.Reentry = ReentryAfterCooldown
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Engine decides what a scan means for a (student, section, date) tuple and
// issues the matching store writes. It holds no state of its own.
type Engine struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewEngine creates an engine backed by store.
func NewEngine(store Store, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, opts: opts.withDefaults(), logger: logger}
}

// DateOf returns the calendar date of t in the engine's location.
func (e *Engine) DateOf(t time.Time) string {
	return t.In(e.opts.Location).Format(DateLayout)
}

// Evaluate applies a parsed scan to the selected section at now.
// A nil section yields NoSectionSelected. Store failures are returned
// wrapped in ErrStoreUnavailable and leave no partial writes behind.
func (e *Engine) Evaluate(ctx context.Context, scan qrpayload.Payload, sec *section.Section, now time.Time) (Decision, error) {
	if sec == nil || sec.ID == "" {
		return Decision{Kind: NoSectionSelected, StudentID: scan.StudentID}, nil
	}
	date := e.DateOf(now)
	now = now.UTC()
	base := Decision{StudentID: scan.StudentID, SectionID: sec.ID, Date: date}

	if e.opts.Mode == ModeAutoTimeout {
		return e.evaluateAutoTimeout(ctx, scan, sec.ID, date, now, base)
	}

	active, err := e.store.GetActiveSession(ctx, scan.StudentID, sec.ID, date)
	if err != nil {
		return Decision{}, storeErr("get active session", err)
	}
	if active != nil {
		base.Kind = AlreadyActive
		base.Session = active
		return base, nil
	}

	last, err := e.store.GetLastCooldown(ctx, scan.StudentID, sec.ID, date)
	if err != nil {
		return Decision{}, storeErr("get last cooldown", err)
	}
	if last != nil && cooldown.Active(last.CooldownUntil, now) {
		base.Kind = CooldownBlocked
		base.RemainingSeconds = cooldown.Remaining(*last.CooldownUntil, now)
		base.CooldownUntil = last.CooldownUntil
		base.Session = last
		return base, nil
	}

	rec, err := e.store.GetAttendanceRecord(ctx, scan.StudentID, sec.ID, date)
	if err != nil {
		return Decision{}, storeErr("get attendance record", err)
	}
	if rec != nil && (e.opts.Reentry == ReentryOncePerDay || last == nil) {
		// The record may belong to a session another device opened after the first lookup.
		active, err := e.store.GetActiveSession(ctx, scan.StudentID, sec.ID, date)
		if err != nil {
			return Decision{}, storeErr("get active session", err)
		}
		if active != nil {
			base.Kind = AlreadyActive
			base.Session = active
			return base, nil
		}
		base.Kind = AlreadyCheckedInToday
		base.Record = rec
		return base, nil
	}

	return e.checkIn(ctx, scan, base, now, false)
}

// checkIn writes the record (unless one exists for the day, or forceRecord
// is set) and a new session in one transaction.
func (e *Engine) checkIn(ctx context.Context, scan qrpayload.Payload, base Decision, now time.Time, forceRecord bool) (Decision, error) {
	var (
		record  AttendanceRecord
		session Session
	)
	err := e.store.RunInTx(ctx, func(tx Store) error {
		var existing *AttendanceRecord
		if !forceRecord {
			var err error
			existing, err = tx.GetAttendanceRecord(ctx, scan.StudentID, base.SectionID, base.Date)
			if err != nil {
				return err
			}
		}
		if existing != nil {
			record = *existing
		} else {
			created, err := tx.CreateAttendanceRecord(ctx, AttendanceRecord{
				ID:         uuid.NewString(),
				StudentID:  scan.StudentID,
				FullName:   scan.FullName,
				Department: scan.Department,
				Date:       base.Date,
				TimeIn:     now,
				SectionID:  base.SectionID,
			})
			if err != nil {
				return err
			}
			record = created
		}

		created, err := tx.CreateSession(ctx, Session{
			ID:        uuid.NewString(),
			StudentID: scan.StudentID,
			SectionID: base.SectionID,
			Date:      base.Date,
			LoginTime: now,
		})
		if err != nil {
			return err
		}
		session = created
		return nil
	})

	if errors.Is(err, ErrActiveSessionExists) {
		// Another device won the race for this tuple.
		active, gerr := e.store.GetActiveSession(ctx, scan.StudentID, base.SectionID, base.Date)
		if gerr != nil {
			return Decision{}, storeErr("get active session", gerr)
		}
		e.logger.Info("concurrent check-in resolved as already active",
			zap.String("student_id", scan.StudentID),
			zap.String("section_id", base.SectionID))
		base.Kind = AlreadyActive
		base.Session = active
		return base, nil
	}
	if err != nil {
		return Decision{}, storeErr("check in", err)
	}

	e.logger.Info("student checked in",
		zap.String("student_id", scan.StudentID),
		zap.String("section_id", base.SectionID),
		zap.String("session_id", session.ID))
	base.Kind = CheckIn
	base.Record = &record
	base.Session = &session
	return base, nil
}

// evaluateAutoTimeout is the rescan-driven flow: a scan while present in
// another section times that section out instead of checking in.
func (e *Engine) evaluateAutoTimeout(ctx context.Context, scan qrpayload.Payload, sectionID, date string, now time.Time, base Decision) (Decision, error) {
	latest, err := e.store.LatestAttendance(ctx, scan.StudentID, date)
	if err != nil {
		return Decision{}, storeErr("latest attendance", err)
	}
	if latest == nil {
		return e.checkIn(ctx, scan, base, now, true)
	}

	lastScan := latest.TimeIn
	if latest.TimeOut != nil && latest.TimeOut.After(lastScan) {
		lastScan = *latest.TimeOut
	}
	if now.Sub(lastScan) < e.opts.RescanThrottle {
		until := lastScan.Add(e.opts.RescanThrottle)
		base.Kind = CooldownBlocked
		base.RemainingSeconds = cooldown.Remaining(until, now)
		base.CooldownUntil = &until
		base.Record = latest
		return base, nil
	}

	if !latest.Present() {
		return e.checkIn(ctx, scan, base, now, true)
	}

	if latest.SectionID == sectionID {
		active, err := e.store.GetActiveSession(ctx, scan.StudentID, sectionID, date)
		if err != nil {
			return Decision{}, storeErr("get active session", err)
		}
		if active != nil {
			base.Kind = AlreadyActive
			base.Session = active
			base.Record = latest
			return base, nil
		}
		// Logged out explicitly: the record is still open, the session is not.
		last, err := e.store.GetLastCooldown(ctx, scan.StudentID, sectionID, date)
		if err != nil {
			return Decision{}, storeErr("get last cooldown", err)
		}
		if last != nil && cooldown.Active(last.CooldownUntil, now) {
			base.Kind = CooldownBlocked
			base.RemainingSeconds = cooldown.Remaining(*last.CooldownUntil, now)
			base.CooldownUntil = last.CooldownUntil
			base.Session = last
			base.Record = latest
			return base, nil
		}
		return e.checkIn(ctx, scan, base, now, false)
	}

	var closed *Session
	err = e.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.StampTimeOut(ctx, latest.ID, now); err != nil {
			return err
		}
		active, err := tx.GetActiveSession(ctx, scan.StudentID, latest.SectionID, date)
		if err != nil || active == nil {
			return err
		}
		if err := tx.CloseSession(ctx, active.ID, now, now); err != nil {
			return err
		}
		active.LogoutTime = &now
		active.CooldownUntil = &now
		closed = active
		return nil
	})
	if err != nil {
		return Decision{}, storeErr("time out", err)
	}

	e.logger.Info("student timed out of previous section",
		zap.String("student_id", scan.StudentID),
		zap.String("previous_section_id", latest.SectionID))
	timedOut := *latest
	timedOut.TimeOut = &now
	base.Kind = TimedOut
	base.Record = &timedOut
	base.Session = closed
	return base, nil
}

// Logout closes an active session once the hold window has passed and
// starts its cooldown. A non-positive cooldownFor uses the configured cooldown.
func (e *Engine) Logout(ctx context.Context, sessionID string, now time.Time, cooldownFor time.Duration) (LogoutResult, error) {
	if cooldownFor <= 0 {
		cooldownFor = e.opts.Cooldown
	}
	now = now.UTC()

	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return LogoutResult{}, err
		}
		return LogoutResult{}, storeErr("get session", err)
	}
	if !s.Active() {
		return LogoutResult{}, ErrNoActiveSession
	}
	if !cooldown.IsHoldSatisfied(s.LoginTime, now, e.opts.MinHold) {
		return LogoutResult{
			Outcome:          LogoutTooEarly,
			Session:          s,
			RemainingSeconds: cooldown.HoldRemaining(s.LoginTime, now, e.opts.MinHold),
		}, nil
	}

	until := now.Add(cooldownFor)
	if err := e.store.CloseSession(ctx, sessionID, now, until); err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return LogoutResult{}, err
		}
		return LogoutResult{}, storeErr("close session", err)
	}
	s.LogoutTime = &now
	s.CooldownUntil = &until

	e.logger.Info("student logged out",
		zap.String("student_id", s.StudentID),
		zap.String("section_id", s.SectionID),
		zap.Time("cooldown_until", until))
	return LogoutResult{Outcome: LogoutSuccess, Session: s}, nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
