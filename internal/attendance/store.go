package attendance

import (
	"context"
	"errors"
	"time"

	"qrattendance/internal/section"
)

var (
	// ErrStoreUnavailable wraps any failure of the underlying storage engine.
	ErrStoreUnavailable = errors.New("attendance store unavailable")
	// ErrActiveSessionExists is returned by CreateSession when the tuple already has an open session.
	ErrActiveSessionExists = errors.New("active session already exists")
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoActiveSession indicates the session is already logged out.
	ErrNoActiveSession = errors.New("no active session")
	// ErrRecordNotFound indicates an unknown attendance record id.
	ErrRecordNotFound = errors.New("attendance record not found")
	// ErrRefreshTokenRevoked means the refresh token is unknown, expired or already rotated.
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
)

// Store is what the engine needs from persistence. Lookups return nil, nil
// when nothing matches.
type Store interface {
	// GetActiveSession returns the open session for the tuple.
	GetActiveSession(ctx context.Context, studentID, sectionID, date string) (*Session, error)
	// GetLastCooldown returns the most recently closed session for the tuple.
	GetLastCooldown(ctx context.Context, studentID, sectionID, date string) (*Session, error)
	// GetAttendanceRecord returns the student's record for the section on date.
	GetAttendanceRecord(ctx context.Context, studentID, sectionID, date string) (*AttendanceRecord, error)
	// LatestAttendance returns the student's most recent record on date in any section.
	LatestAttendance(ctx context.Context, studentID, date string) (*AttendanceRecord, error)
	CreateAttendanceRecord(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, error)
	// StampTimeOut sets time_out on a record.
	StampTimeOut(ctx context.Context, recordID string, at time.Time) error
	// CreateSession inserts an open session, failing with ErrActiveSessionExists
	// if the tuple already has one.
	CreateSession(ctx context.Context, s Session) (Session, error)
	// CloseSession stamps logout and cooldown, failing with ErrNoActiveSession
	// if the session is already closed.
	CloseSession(ctx context.Context, sessionID string, logoutTime, cooldownUntil time.Time) error
	// GetSession returns a session by id or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// RunInTx runs fn against a transactional view; any error rolls back every write.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// Reports are read models used by dashboards.
type Reports interface {
	ListActiveSessions(ctx context.Context, studentID, date string) ([]Session, error)
	ListAttendance(ctx context.Context, date, sectionID string) ([]AttendanceRecord, error)
	AttendanceStats(ctx context.Context, date, sectionID string) (Stats, error)
}

// Directory holds sections and scanning devices.
type Directory interface {
	ListSections(ctx context.Context) ([]section.Section, error)
	// GetSection returns nil, nil for an unknown id.
	GetSection(ctx context.Context, id string) (*section.Section, error)
	UpsertSection(ctx context.Context, s section.Section) error
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	// RotateRefreshToken revokes oldToken and stores newToken in its place.
	// It fails with ErrRefreshTokenRevoked unless oldToken is live at now.
	RotateRefreshToken(ctx context.Context, deviceID, oldToken, newToken string, expiresAt, now time.Time) error
}

// AuditLog persists scan events.
type AuditLog interface {
	InsertScanEvent(ctx context.Context, evt ScanEvent) error
	ListScanEvents(ctx context.Context, deviceID, studentID string, limit, offset int) ([]ScanEvent, error)
}

// Backend is the full persistence surface of the service.
type Backend interface {
	Store
	Reports
	Directory
	AuditLog
}
