package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qrattendance/internal/section"
)

var _ Backend = (*Repository)(nil)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists attendance data in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	q       queryer
	dialect Dialect
	inTx    bool
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, q: db, dialect: dialect}
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...)
}

// RunInTx runs fn inside a database transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txRepo := &Repository{db: r.db, q: tx, dialect: r.dialect, inTx: true}
	if err := fn(txRepo); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const sessionColumns = `id, student_id, section_id, attendance_date, login_time, logout_time, cooldown_until`

const recordColumns = `id, student_id, full_name, department, attendance_date, time_in, time_out, section_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.StudentID, &s.SectionID, &s.Date, &s.LoginTime, &s.LogoutTime, &s.CooldownUntil)
	return s, err
}

func scanRecord(row scanner) (AttendanceRecord, error) {
	var rec AttendanceRecord
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.FullName, &rec.Department, &rec.Date, &rec.TimeIn, &rec.TimeOut, &rec.SectionID, &rec.CreatedAt)
	return rec, err
}

func optionalSession(s Session, err error) (*Session, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func optionalRecord(rec AttendanceRecord, err error) (*AttendanceRecord, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetActiveSession returns the open session for the tuple, if any.
func (r *Repository) GetActiveSession(ctx context.Context, studentID, sectionID, date string) (*Session, error) {
	row := r.queryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM student_sessions
		WHERE student_id = ? AND section_id = ? AND attendance_date = ? AND logout_time IS NULL
		LIMIT 1
	`, studentID, sectionID, date)
	return optionalSession(scanSession(row))
}

// GetLastCooldown returns the most recently closed session for the tuple.
func (r *Repository) GetLastCooldown(ctx context.Context, studentID, sectionID, date string) (*Session, error) {
	row := r.queryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM student_sessions
		WHERE student_id = ? AND section_id = ? AND attendance_date = ? AND logout_time IS NOT NULL
		ORDER BY logout_time DESC
		LIMIT 1
	`, studentID, sectionID, date)
	return optionalSession(scanSession(row))
}

// GetAttendanceRecord returns the student's latest record for the section on date.
func (r *Repository) GetAttendanceRecord(ctx context.Context, studentID, sectionID, date string) (*AttendanceRecord, error) {
	row := r.queryRow(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = ? AND section_id = ? AND attendance_date = ?
		ORDER BY time_in DESC
		LIMIT 1
	`, studentID, sectionID, date)
	return optionalRecord(scanRecord(row))
}

// LatestAttendance returns the student's most recent record on date.
func (r *Repository) LatestAttendance(ctx context.Context, studentID, date string) (*AttendanceRecord, error) {
	row := r.queryRow(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = ? AND attendance_date = ?
		ORDER BY time_in DESC, created_at DESC
		LIMIT 1
	`, studentID, date)
	return optionalRecord(scanRecord(row))
}

// CreateAttendanceRecord writes a new time-in record.
func (r *Repository) CreateAttendanceRecord(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error) {
	if rec.ID == "" || rec.StudentID == "" || rec.SectionID == "" {
		return AttendanceRecord{}, errors.New("record id, student and section required")
	}
	rec.TimeIn = rec.TimeIn.UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, `
		INSERT INTO attendance_records (id, student_id, full_name, department, attendance_date, time_in, time_out, section_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StudentID, rec.FullName, rec.Department, rec.Date, rec.TimeIn, rec.TimeOut, rec.SectionID, rec.CreatedAt)
	if err != nil {
		return AttendanceRecord{}, err
	}
	return rec, nil
}

// StampTimeOut sets time_out on a record.
func (r *Repository) StampTimeOut(ctx context.Context, recordID string, at time.Time) error {
	res, err := r.exec(ctx, `UPDATE attendance_records SET time_out = ? WHERE id = ?`, at.UTC(), recordID)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrRecordNotFound)
}

// CreateSession inserts an open session. The partial unique index on open
// sessions turns a concurrent duplicate into ErrActiveSessionExists.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" || s.StudentID == "" || s.SectionID == "" {
		return Session{}, errors.New("session id, student and section required")
	}
	s.LoginTime = s.LoginTime.UTC()
	s.LogoutTime = nil
	s.CooldownUntil = nil
	_, err := r.exec(ctx, `
		INSERT INTO student_sessions (id, student_id, section_id, attendance_date, login_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.StudentID, s.SectionID, s.Date, s.LoginTime, time.Now().UTC())
	if err != nil {
		if r.dialect.isUniqueViolation(err) {
			return Session{}, ErrActiveSessionExists
		}
		return Session{}, err
	}
	return s, nil
}

// CloseSession stamps logout and cooldown on an open session.
func (r *Repository) CloseSession(ctx context.Context, sessionID string, logoutTime, cooldownUntil time.Time) error {
	res, err := r.exec(ctx, `
		UPDATE student_sessions
		SET logout_time = ?, cooldown_until = ?
		WHERE id = ? AND logout_time IS NULL
	`, logoutTime.UTC(), cooldownUntil.UTC(), sessionID)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrNoActiveSession)
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := r.queryRow(ctx, `SELECT `+sessionColumns+` FROM student_sessions WHERE id = ?`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// ListActiveSessions returns the student's open sessions on date.
func (r *Repository) ListActiveSessions(ctx context.Context, studentID, date string) ([]Session, error) {
	rows, err := r.query(ctx, `
		SELECT `+sessionColumns+`
		FROM student_sessions
		WHERE student_id = ? AND attendance_date = ? AND logout_time IS NULL
		ORDER BY login_time
	`, studentID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListAttendance returns records for date, newest time-in first. An empty
// or "all" sectionID matches every section.
func (r *Repository) ListAttendance(ctx context.Context, date, sectionID string) ([]AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE attendance_date = ?`
	args := []any{date}
	if sectionID != "" && sectionID != "all" {
		query += ` AND section_id = ?`
		args = append(args, sectionID)
	}
	query += ` ORDER BY time_in DESC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// AttendanceStats counts the day's records and open sessions.
func (r *Repository) AttendanceStats(ctx context.Context, date, sectionID string) (Stats, error) {
	filter := ""
	args := []any{date}
	if sectionID != "" && sectionID != "all" {
		filter = ` AND section_id = ?`
		args = append(args, sectionID)
	}

	var st Stats
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM attendance_records WHERE attendance_date = ?`+filter, args...).Scan(&st.TotalToday); err != nil {
		return Stats{}, err
	}
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM student_sessions WHERE attendance_date = ? AND logout_time IS NULL`+filter, args...).Scan(&st.PresentNow); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ListSections returns sections ordered by name.
func (r *Repository) ListSections(ctx context.Context) ([]section.Section, error) {
	rows, err := r.query(ctx, `SELECT id, name, created_at FROM sections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []section.Section
	for rows.Next() {
		var s section.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetSection returns a section by id.
func (r *Repository) GetSection(ctx context.Context, id string) (*section.Section, error) {
	var s section.Section
	err := r.queryRow(ctx, `SELECT id, name, created_at FROM sections WHERE id = ?`, id).Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpsertSection ensures a section exists with the given name.
func (r *Repository) UpsertSection(ctx context.Context, s section.Section) error {
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Name) == "" {
		return errors.New("section id and name required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.exec(ctx, `
		INSERT INTO sections (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, s.ID, s.Name, s.CreatedAt)
	return err
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.exec(ctx, `
		INSERT INTO devices (device_id, registered_at)
		VALUES (?, ?)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID, time.Now().UTC())
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.exec(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES (?, ?, ?)
	`, deviceID, token, expiresAt.UTC())
	return err
}

// RotateRefreshToken revokes oldToken and stores newToken in one transaction.
func (r *Repository) RotateRefreshToken(ctx context.Context, deviceID, oldToken, newToken string, expiresAt, now time.Time) error {
	return r.RunInTx(ctx, func(tx Store) error {
		txRepo := tx.(*Repository)
		var (
			exp     time.Time
			revoked bool
		)
		err := txRepo.queryRow(ctx, `
			SELECT expires_at, revoked FROM refresh_tokens
			WHERE device_id = ? AND token = ?
		`, deviceID, oldToken).Scan(&exp, &revoked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefreshTokenRevoked
		}
		if err != nil {
			return err
		}
		if revoked || !now.Before(exp) {
			return ErrRefreshTokenRevoked
		}
		res, err := txRepo.exec(ctx, `
			UPDATE refresh_tokens SET revoked = ?
			WHERE device_id = ? AND token = ? AND revoked = ?
		`, true, deviceID, oldToken, false)
		if err != nil {
			return err
		}
		if err := requireAffected(res, ErrRefreshTokenRevoked); err != nil {
			return err
		}
		return txRepo.SaveRefreshToken(ctx, deviceID, newToken, expiresAt)
	})
}

// InsertScanEvent appends to the scan audit log. Replays of the same event id are ignored.
func (r *Repository) InsertScanEvent(ctx context.Context, evt ScanEvent) error {
	if evt.ID == "" || evt.DeviceID == "" {
		return fmt.Errorf("scan event id and device required")
	}
	_, err := r.exec(ctx, `
		INSERT INTO scan_events (id, device_id, student_id, full_name, section_id, decision, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.DeviceID, evt.StudentID, evt.FullName, evt.SectionID, evt.Decision, evt.Detail, evt.OccurredAt.UTC())
	return err
}

// ListScanEvents returns events with basic filters, newest first.
func (r *Repository) ListScanEvents(ctx context.Context, deviceID, studentID string, limit, offset int) ([]ScanEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, device_id, student_id, full_name, section_id, decision, detail, occurred_at FROM scan_events`
	args := []any{}
	clauses := []string{}
	if deviceID != "" {
		clauses = append(clauses, "device_id = ?")
		args = append(args, deviceID)
	}
	if studentID != "" {
		clauses = append(clauses, "student_id = ?")
		args = append(args, studentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ScanEvent
	for rows.Next() {
		var evt ScanEvent
		if err := rows.Scan(&evt.ID, &evt.DeviceID, &evt.StudentID, &evt.FullName, &evt.SectionID, &evt.Decision, &evt.Detail, &evt.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
