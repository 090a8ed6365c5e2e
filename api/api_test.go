package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawsync-server/events"
	"drawsync-server/hub"
	"drawsync-server/oplog"
	"drawsync-server/protocol"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *hub.Registry) {
	rooms := hub.New(time.Minute)
	t.Cleanup(rooms.Close)
	srv := httptest.NewServer(New(rooms, protocol.NewHandler(rooms, nil, nil), opts))
	t.Cleanup(srv.Close)
	return srv, rooms
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var body map[string]string
	getJSON(t, srv.URL+"/health", &body)

	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestStatsAndRooms(t *testing.T) {
	srv, rooms := newTestServer(t, Options{
		EventStats: func() events.Stats { return events.Stats{Published: 3, Dropped: 1} },
	})
	rooms.GetOrCreate("r1")
	rooms.Update("r1", func(r *hub.Room) {
		r.Log.Append(oplog.Draft{UserID: "a", Completed: true})
	})

	var stats statsResponse
	getJSON(t, srv.URL+"/stats", &stats)
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 0, stats.Clients)
	require.NotNil(t, stats.Events)
	assert.Equal(t, uint64(3), stats.Events.Published)

	var list []hub.RoomInfo
	getJSON(t, srv.URL+"/rooms", &list)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)
	assert.Equal(t, 1, list[0].Operations)
}

func TestExport(t *testing.T) {
	srv, rooms := newTestServer(t, Options{ExportWidth: 400, ExportHeight: 300})
	rooms.GetOrCreate("r1")

	resp, err := http.Get(srv.URL + "/rooms/missing/export.pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/rooms/r1/export.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "r1.pdf")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF-")))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_EndToEnd(t *testing.T) {
	srv, rooms := newTestServer(t, Options{})

	a := dial(t, srv)
	require.NoError(t, a.WriteJSON(map[string]any{"type": "join", "name": "A", "roomId": "r1"}))
	initMsg := read(t, a)
	require.Equal(t, "init", initMsg["type"])
	assert.Equal(t, []any{}, initMsg["operations"])
	aID := initMsg["userId"].(string)

	b := dial(t, srv)
	require.NoError(t, b.WriteJSON(map[string]any{"type": "join", "name": "B", "roomId": "r1"}))
	assert.Equal(t, "init", read(t, b)["type"])
	assert.Equal(t, "user-joined", read(t, a)["type"])

	require.NoError(t, a.WriteJSON(map[string]any{"type": "draw-start", "point": map[string]any{"x": 0, "y": 0}}))
	msg := read(t, b)
	assert.Equal(t, "draw-start", msg["type"])
	assert.Equal(t, aID, msg["userId"])

	require.NoError(t, a.WriteJSON(map[string]any{"type": "undo"}))
	assert.Equal(t, "undo", read(t, a)["type"])
	assert.Equal(t, "undo", read(t, b)["type"])

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte("garbage")))
	assert.Equal(t, "error", read(t, b)["type"])

	require.NoError(t, a.Close())
	left := read(t, b)
	assert.Equal(t, map[string]any{"type": "user-left", "userId": aID}, left)

	assert.Eventually(t, func() bool { return len(rooms.Members("r1")) == 1 }, time.Second, 10*time.Millisecond)
}
