package arg

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/attendance"
	"qrattendance/internal/attendance/memstore"
	"qrattendance/internal/scanner"
	"qrattendance/internal/section"
)

func newTestKiosk(t *testing.T) (*kiosk, *memstore.Store, *bytes.Buffer, *time.Time) {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.UpsertSection(context.Background(), section.Section{ID: "bsit-3a", Name: "BSIT-3A"}))
	engine := attendance.NewEngine(store, attendance.Options{Location: time.UTC}, nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	out := &bytes.Buffer{}
	k := &kiosk{
		device:  scanner.NewRegistry(engine, store).Device(context.Background(), "kiosk"),
		engine:  engine,
		reports: store,
		now:     func() time.Time { return now },
		out:     out,
	}
	return k, store, out, &now
}

func TestKioskSession(t *testing.T) {
	k, store, out, _ := newTestKiosk(t)
	input := strings.Join([]string{
		"NHEM DAY G. ACLO 2023300076 BSIT",
		"section bsit-3a",
		"",
		"NHEM DAY G. ACLO 2023300076 BSIT",
		"NHEM DAY G. ACLO 2023300076 BSIT",
		"garbage",
		"stats",
		"quit",
		"NHEM DAY G. ACLO 2023300076 BSIT",
	}, "\n")

	require.NoError(t, k.run(context.Background(), strings.NewReader(input)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "2023300076: select a section first", lines[0])
	assert.Equal(t, "section: BSIT-3A (bsit-3a)", lines[1])
	assert.Contains(t, lines[2], "attendance recorded")
	assert.Contains(t, lines[3], "already logged in")
	assert.True(t, strings.HasPrefix(lines[4], "error: malformed qr payload"))
	assert.Equal(t, "BSIT-3A: 1 checked in today, 1 present now", lines[5])
	assert.Len(t, store.Sessions(), 1, "input after quit is ignored")
}

func TestKioskLogout(t *testing.T) {
	k, store, out, now := newTestKiosk(t)
	ctx := context.Background()
	require.NoError(t, k.command(ctx, "section bsit-3a"))
	require.NoError(t, k.command(ctx, "NHEM DAY G. ACLO 2023300076 BSIT"))
	id := store.Sessions()[0].ID
	out.Reset()

	*now = now.Add(20 * time.Second)
	require.NoError(t, k.command(ctx, "logout "+id))
	assert.Equal(t, "too early: wait 40s before logging out\n", out.String())

	assert.Error(t, k.command(ctx, "logout "+id+" soon"))
	assert.ErrorIs(t, k.command(ctx, "logout missing"), attendance.ErrSessionNotFound)

	*now = now.Add(time.Minute)
	out.Reset()
	require.NoError(t, k.command(ctx, "logout "+id+" 30"))
	assert.True(t, strings.HasPrefix(out.String(), "logged out 2023300076"))

	sessions := store.Sessions()
	require.NotNil(t, sessions[0].CooldownUntil)
	assert.Equal(t, 30*time.Second, sessions[0].CooldownUntil.Sub(*sessions[0].LogoutTime))
}
