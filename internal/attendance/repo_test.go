package attendance_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/attendance"
	"qrattendance/internal/section"
)

func newSQLiteRepo(t *testing.T) *attendance.Repository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "attendance.db") + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, attendance.Migrate(context.Background(), db, attendance.SQLite))
	return attendance.NewRepository(db, attendance.SQLite)
}

func TestRepositoryEngineFlow(t *testing.T) {
	repo := newSQLiteRepo(t)
	engine := attendance.NewEngine(repo, attendance.Options{Location: time.UTC}, nil)
	sec := &section.Section{ID: "sec-a", Name: "Section A"}

	d, err := engine.Evaluate(ctx, refScan, sec, at(0))
	require.NoError(t, err)
	require.Equal(t, attendance.CheckIn, d.Kind)

	d, err = engine.Evaluate(ctx, refScan, sec, at(30))
	require.NoError(t, err)
	assert.Equal(t, attendance.AlreadyActive, d.Kind)

	sessionID := d.Session.ID
	res, err := engine.Logout(ctx, sessionID, at(10), 0)
	require.NoError(t, err)
	assert.Equal(t, attendance.LogoutTooEarly, res.Outcome)
	assert.Equal(t, 50, res.RemainingSeconds)

	res, err = engine.Logout(ctx, sessionID, at(65), 0)
	require.NoError(t, err)
	assert.Equal(t, attendance.LogoutSuccess, res.Outcome)

	d, err = engine.Evaluate(ctx, refScan, sec, at(100))
	require.NoError(t, err)
	assert.Equal(t, attendance.CooldownBlocked, d.Kind)
	assert.Equal(t, 265, d.RemainingSeconds)

	d, err = engine.Evaluate(ctx, refScan, sec, at(400))
	require.NoError(t, err)
	assert.Equal(t, attendance.CheckIn, d.Kind)

	_, err = engine.Logout(ctx, sessionID, at(500), 0)
	assert.ErrorIs(t, err, attendance.ErrNoActiveSession)

	records, err := repo.ListAttendance(ctx, "2026-03-02", "all")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	stats, err := repo.AttendanceStats(ctx, "2026-03-02", "sec-a")
	require.NoError(t, err)
	assert.Equal(t, attendance.Stats{TotalToday: 1, PresentNow: 1}, stats)
}

func TestRepositoryOneOpenSessionPerTuple(t *testing.T) {
	repo := newSQLiteRepo(t)
	s := attendance.Session{ID: "s1", StudentID: "2023300076", SectionID: "sec-a", Date: "2026-03-02", LoginTime: at(0)}

	_, err := repo.CreateSession(ctx, s)
	require.NoError(t, err)

	s.ID = "s2"
	_, err = repo.CreateSession(ctx, s)
	assert.ErrorIs(t, err, attendance.ErrActiveSessionExists)

	require.NoError(t, repo.CloseSession(ctx, "s1", at(70), at(370)))
	_, err = repo.CreateSession(ctx, s)
	assert.NoError(t, err)

	assert.ErrorIs(t, repo.CloseSession(ctx, "s1", at(80), at(380)), attendance.ErrNoActiveSession)

	_, err = repo.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, attendance.ErrSessionNotFound)

	last, err := repo.GetLastCooldown(ctx, s.StudentID, s.SectionID, s.Date)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.NotNil(t, last.CooldownUntil)
	assert.True(t, last.CooldownUntil.Equal(at(370)))
}

func TestRepositoryRunInTxRollsBack(t *testing.T) {
	repo := newSQLiteRepo(t)

	err := repo.RunInTx(ctx, func(tx attendance.Store) error {
		_, err := tx.CreateAttendanceRecord(ctx, attendance.AttendanceRecord{
			ID: "r1", StudentID: "2023300076", FullName: "Alice", Department: "CS",
			Date: "2026-03-02", TimeIn: at(0), SectionID: "sec-a",
		})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	rec, err := repo.GetAttendanceRecord(ctx, "2023300076", "sec-a", "2026-03-02")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRepositoryDirectoryAndAudit(t *testing.T) {
	repo := newSQLiteRepo(t)

	require.NoError(t, repo.UpsertSection(ctx, section.Section{ID: "b", Name: "Bravo"}))
	require.NoError(t, repo.UpsertSection(ctx, section.Section{ID: "a", Name: "Alpha"}))
	require.NoError(t, repo.UpsertSection(ctx, section.Section{ID: "a", Name: "Alpha 2"}))

	sections, err := repo.ListSections(ctx)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Alpha 2", sections[0].Name)

	missing, err := repo.GetSection(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.UpsertDevice(ctx, "kiosk-1"))
	require.NoError(t, repo.UpsertDevice(ctx, "kiosk-1"))
	require.NoError(t, repo.SaveRefreshToken(ctx, "kiosk-1", "tok", at(3600)))
	require.NoError(t, repo.RotateRefreshToken(ctx, "kiosk-1", "tok", "tok-2", at(7200), at(10)))
	assert.ErrorIs(t, repo.RotateRefreshToken(ctx, "kiosk-1", "tok", "tok-3", at(7200), at(20)), attendance.ErrRefreshTokenRevoked)
	assert.ErrorIs(t, repo.RotateRefreshToken(ctx, "kiosk-2", "tok-2", "tok-3", at(7200), at(20)), attendance.ErrRefreshTokenRevoked)
	assert.ErrorIs(t, repo.RotateRefreshToken(ctx, "kiosk-1", "tok-2", "tok-3", at(7200), at(7200)), attendance.ErrRefreshTokenRevoked, "expired")
	require.NoError(t, repo.RotateRefreshToken(ctx, "kiosk-1", "tok-2", "tok-3", at(7200), at(30)))

	evt := attendance.ScanEvent{ID: "e1", DeviceID: "kiosk-1", StudentID: "2023300076", Decision: "check_in", OccurredAt: at(0)}
	require.NoError(t, repo.InsertScanEvent(ctx, evt))
	require.NoError(t, repo.InsertScanEvent(ctx, evt))
	require.NoError(t, repo.InsertScanEvent(ctx, attendance.ScanEvent{ID: "e2", DeviceID: "kiosk-2", Decision: "busy", OccurredAt: at(5)}))

	events, err := repo.ListScanEvents(ctx, "kiosk-1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "check_in", events[0].Decision)

	all, err := repo.ListScanEvents(ctx, "", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e2", all[0].ID)
}

func TestRepositoryConcurrentScansOpenOneSession(t *testing.T) {
	repo := newSQLiteRepo(t)
	engine := attendance.NewEngine(repo, attendance.Options{Location: time.UTC}, nil)
	assertOneCheckIn(t, engine, 16)

	sessions, err := repo.ListActiveSessions(ctx, refScan.StudentID, "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
