package live

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/attendance"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastsBySection(t *testing.T) {
	hub := NewHub(time.Second, time.Minute, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "?section_id=bsit-3b")
	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	hub.Notify("kiosk-1", attendance.Decision{Kind: attendance.CheckIn, StudentID: "2023300076", SectionID: "bsit-3a"})
	hub.Notify("kiosk-2", attendance.Decision{Kind: attendance.CooldownBlocked, SectionID: "bsit-3b", RemainingSeconds: 42})

	read := func(conn *websocket.Conn) map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	}

	first := read(all)
	assert.Equal(t, "kiosk-1", first["device_id"])
	assert.Equal(t, "check_in", first["result"].(map[string]any)["decision"])
	assert.Equal(t, "kiosk-2", read(all)["device_id"])

	got := read(onlyB)
	assert.Equal(t, "kiosk-2", got["device_id"])
	assert.Equal(t, "cooldown: wait 42s", got["message"])
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub(time.Second, time.Minute, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
