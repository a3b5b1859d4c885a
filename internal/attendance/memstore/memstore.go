// Package memstore is an in-memory attendance backend for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"qrattendance/internal/attendance"
	"qrattendance/internal/section"
)

var _ attendance.Backend = (*Store)(nil)

type refreshToken struct {
	deviceID  string
	expiresAt time.Time
	revoked   bool
}

type data struct {
	records  []attendance.AttendanceRecord
	sessions []attendance.Session
	sections map[string]section.Section
	devices  map[string]time.Time
	tokens   map[string]refreshToken
	events   []attendance.ScanEvent
}

func (d *data) clone() *data {
	c := &data{
		records:  append([]attendance.AttendanceRecord(nil), d.records...),
		sessions: append([]attendance.Session(nil), d.sessions...),
		sections: make(map[string]section.Section, len(d.sections)),
		devices:  make(map[string]time.Time, len(d.devices)),
		tokens:   make(map[string]refreshToken, len(d.tokens)),
		events:   append([]attendance.ScanEvent(nil), d.events...),
	}
	for k, v := range d.sections {
		c.sections[k] = v
	}
	for k, v := range d.devices {
		c.devices[k] = v
	}
	for k, v := range d.tokens {
		c.tokens[k] = v
	}
	return c
}

// Store keeps every row in memory behind a single mutex.
type Store struct {
	mu sync.Mutex
	d  *data
	// Fail, when set, is returned by every call. Used to simulate outages.
	Fail error
	// FailOn makes only the named operation fail (e.g. "CreateSession").
	FailOn map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{d: &data{
		sections: make(map[string]section.Section),
		devices:  make(map[string]time.Time),
		tokens:   make(map[string]refreshToken),
	}}
}

// view implements attendance.Store against data the caller has already locked.
type view struct {
	s *Store
}

func (s *Store) check(op string) error {
	if s.Fail != nil {
		return s.Fail
	}
	if err, ok := s.FailOn[op]; ok {
		return err
	}
	return nil
}

func (s *Store) locked(fn func(v view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(view{s: s})
}

// RunInTx runs fn with the store locked and restores the previous state if fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(tx attendance.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("RunInTx"); err != nil {
		return err
	}
	snapshot := s.d.clone()
	if err := fn(view{s: s}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (v view) RunInTx(ctx context.Context, fn func(tx attendance.Store) error) error {
	return fn(v)
}

func (s *Store) GetActiveSession(ctx context.Context, studentID, sectionID, date string) (out *attendance.Session, err error) {
	err = s.locked(func(v view) error {
		out, err = v.GetActiveSession(ctx, studentID, sectionID, date)
		return err
	})
	return out, err
}

func (v view) GetActiveSession(_ context.Context, studentID, sectionID, date string) (*attendance.Session, error) {
	if err := v.s.check("GetActiveSession"); err != nil {
		return nil, err
	}
	for _, sess := range v.s.d.sessions {
		if sess.StudentID == studentID && sess.SectionID == sectionID && sess.Date == date && sess.Active() {
			out := sess
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) GetLastCooldown(ctx context.Context, studentID, sectionID, date string) (out *attendance.Session, err error) {
	err = s.locked(func(v view) error {
		out, err = v.GetLastCooldown(ctx, studentID, sectionID, date)
		return err
	})
	return out, err
}

func (v view) GetLastCooldown(_ context.Context, studentID, sectionID, date string) (*attendance.Session, error) {
	if err := v.s.check("GetLastCooldown"); err != nil {
		return nil, err
	}
	var last *attendance.Session
	for _, sess := range v.s.d.sessions {
		if sess.StudentID != studentID || sess.SectionID != sectionID || sess.Date != date || sess.Active() {
			continue
		}
		if last == nil || !sess.LogoutTime.Before(*last.LogoutTime) {
			out := sess
			last = &out
		}
	}
	return last, nil
}

func (s *Store) GetAttendanceRecord(ctx context.Context, studentID, sectionID, date string) (out *attendance.AttendanceRecord, err error) {
	err = s.locked(func(v view) error {
		out, err = v.GetAttendanceRecord(ctx, studentID, sectionID, date)
		return err
	})
	return out, err
}

func (v view) GetAttendanceRecord(_ context.Context, studentID, sectionID, date string) (*attendance.AttendanceRecord, error) {
	if err := v.s.check("GetAttendanceRecord"); err != nil {
		return nil, err
	}
	var found *attendance.AttendanceRecord
	for _, rec := range v.s.d.records {
		if rec.StudentID == studentID && rec.SectionID == sectionID && rec.Date == date {
			out := rec
			found = &out
		}
	}
	return found, nil
}

func (s *Store) LatestAttendance(ctx context.Context, studentID, date string) (out *attendance.AttendanceRecord, err error) {
	err = s.locked(func(v view) error {
		out, err = v.LatestAttendance(ctx, studentID, date)
		return err
	})
	return out, err
}

func (v view) LatestAttendance(_ context.Context, studentID, date string) (*attendance.AttendanceRecord, error) {
	if err := v.s.check("LatestAttendance"); err != nil {
		return nil, err
	}
	var found *attendance.AttendanceRecord
	for _, rec := range v.s.d.records {
		if rec.StudentID == studentID && rec.Date == date {
			out := rec
			found = &out
		}
	}
	return found, nil
}

func (s *Store) CreateAttendanceRecord(ctx context.Context, rec attendance.AttendanceRecord) (out attendance.AttendanceRecord, err error) {
	err = s.locked(func(v view) error {
		out, err = v.CreateAttendanceRecord(ctx, rec)
		return err
	})
	return out, err
}

func (v view) CreateAttendanceRecord(_ context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error) {
	if err := v.s.check("CreateAttendanceRecord"); err != nil {
		return attendance.AttendanceRecord{}, err
	}
	rec.CreatedAt = rec.TimeIn
	v.s.d.records = append(v.s.d.records, rec)
	return rec, nil
}

func (s *Store) StampTimeOut(ctx context.Context, recordID string, at time.Time) error {
	return s.locked(func(v view) error { return v.StampTimeOut(ctx, recordID, at) })
}

func (v view) StampTimeOut(_ context.Context, recordID string, at time.Time) error {
	if err := v.s.check("StampTimeOut"); err != nil {
		return err
	}
	for i := range v.s.d.records {
		if v.s.d.records[i].ID == recordID {
			v.s.d.records[i].TimeOut = &at
			return nil
		}
	}
	return attendance.ErrRecordNotFound
}

func (s *Store) CreateSession(ctx context.Context, sess attendance.Session) (out attendance.Session, err error) {
	err = s.locked(func(v view) error {
		out, err = v.CreateSession(ctx, sess)
		return err
	})
	return out, err
}

func (v view) CreateSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	if err := v.s.check("CreateSession"); err != nil {
		return attendance.Session{}, err
	}
	if open, _ := v.GetActiveSession(ctx, sess.StudentID, sess.SectionID, sess.Date); open != nil {
		return attendance.Session{}, attendance.ErrActiveSessionExists
	}
	sess.LogoutTime = nil
	sess.CooldownUntil = nil
	v.s.d.sessions = append(v.s.d.sessions, sess)
	return sess, nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, logoutTime, cooldownUntil time.Time) error {
	return s.locked(func(v view) error { return v.CloseSession(ctx, sessionID, logoutTime, cooldownUntil) })
}

func (v view) CloseSession(_ context.Context, sessionID string, logoutTime, cooldownUntil time.Time) error {
	if err := v.s.check("CloseSession"); err != nil {
		return err
	}
	for i := range v.s.d.sessions {
		sess := &v.s.d.sessions[i]
		if sess.ID != sessionID {
			continue
		}
		if !sess.Active() {
			return attendance.ErrNoActiveSession
		}
		sess.LogoutTime = &logoutTime
		sess.CooldownUntil = &cooldownUntil
		return nil
	}
	return attendance.ErrNoActiveSession
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (out attendance.Session, err error) {
	err = s.locked(func(v view) error {
		out, err = v.GetSession(ctx, sessionID)
		return err
	})
	return out, err
}

func (v view) GetSession(_ context.Context, sessionID string) (attendance.Session, error) {
	if err := v.s.check("GetSession"); err != nil {
		return attendance.Session{}, err
	}
	for _, sess := range v.s.d.sessions {
		if sess.ID == sessionID {
			return sess, nil
		}
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

// ListActiveSessions returns the student's open sessions on date.
func (s *Store) ListActiveSessions(_ context.Context, studentID, date string) ([]attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.Session
	for _, sess := range s.d.sessions {
		if sess.StudentID == studentID && sess.Date == date && sess.Active() {
			out = append(out, sess)
		}
	}
	return out, nil
}

// ListAttendance returns records for date, newest time-in first. An empty
// or "all" sectionID matches every section.
func (s *Store) ListAttendance(_ context.Context, date, sectionID string) ([]attendance.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []attendance.AttendanceRecord
	for _, rec := range s.d.records {
		if rec.Date == date && matchSection(sectionID, rec.SectionID) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeIn.After(out[j].TimeIn) })
	return out, nil
}

// AttendanceStats counts the day's records and open sessions.
func (s *Store) AttendanceStats(_ context.Context, date, sectionID string) (attendance.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st attendance.Stats
	for _, rec := range s.d.records {
		if rec.Date == date && matchSection(sectionID, rec.SectionID) {
			st.TotalToday++
		}
	}
	for _, sess := range s.d.sessions {
		if sess.Date == date && sess.Active() && matchSection(sectionID, sess.SectionID) {
			st.PresentNow++
		}
	}
	return st, nil
}

func matchSection(filter, sectionID string) bool {
	return filter == "" || filter == "all" || filter == sectionID
}

func (s *Store) ListSections(context.Context) ([]section.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]section.Section, 0, len(s.d.sections))
	for _, sec := range s.d.sections {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetSection(_ context.Context, id string) (*section.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.d.sections[id]
	if !ok {
		return nil, nil
	}
	return &sec, nil
}

func (s *Store) UpsertSection(_ context.Context, sec section.Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.d.sections[sec.ID]; ok {
		sec.CreatedAt = existing.CreatedAt
	} else if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}
	s.d.sections[sec.ID] = sec
	return nil
}

func (s *Store) UpsertDevice(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.devices[deviceID]; !ok {
		s.d.devices[deviceID] = time.Now().UTC()
	}
	return nil
}

func (s *Store) SaveRefreshToken(_ context.Context, deviceID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.tokens[token] = refreshToken{deviceID: deviceID, expiresAt: expiresAt}
	return nil
}

func (s *Store) RotateRefreshToken(_ context.Context, deviceID, oldToken, newToken string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("RotateRefreshToken"); err != nil {
		return err
	}
	old, ok := s.d.tokens[oldToken]
	if !ok || old.revoked || old.deviceID != deviceID || !now.Before(old.expiresAt) {
		return attendance.ErrRefreshTokenRevoked
	}
	old.revoked = true
	s.d.tokens[oldToken] = old
	s.d.tokens[newToken] = refreshToken{deviceID: deviceID, expiresAt: expiresAt}
	return nil
}

func (s *Store) InsertScanEvent(_ context.Context, evt attendance.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("InsertScanEvent"); err != nil {
		return err
	}
	for _, existing := range s.d.events {
		if existing.ID == evt.ID {
			return nil
		}
	}
	s.d.events = append(s.d.events, evt)
	return nil
}

// ListScanEvents returns events newest first.
func (s *Store) ListScanEvents(_ context.Context, deviceID, studentID string, limit, offset int) ([]attendance.ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []attendance.ScanEvent
	for i := len(s.d.events) - 1; i >= 0; i-- {
		evt := s.d.events[i]
		if deviceID != "" && evt.DeviceID != deviceID {
			continue
		}
		if studentID != "" && evt.StudentID != studentID {
			continue
		}
		out = append(out, evt)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sessions returns a copy of every session row, for assertions.
func (s *Store) Sessions() []attendance.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attendance.Session(nil), s.d.sessions...)
}

// Records returns a copy of every attendance record, for assertions.
func (s *Store) Records() []attendance.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attendance.AttendanceRecord(nil), s.d.records...)
}
