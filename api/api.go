// Package api exposes the HTTP surface: the websocket endpoint plus a few
// read-only operational routes.
package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"drawsync-server/domain"
	"drawsync-server/events"
	"drawsync-server/export"
	"drawsync-server/hub"
	ws "drawsync-server/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Options struct {
	MaxMessageSize int64
	ExportWidth    float64
	ExportHeight   float64
	// EventStats reports the event feed counters on /stats. Optional.
	EventStats func() events.Stats
}

type server struct {
	rooms   *hub.Registry
	handler domain.MessageHandler
	opts    Options
}

func New(rooms *hub.Registry, handler domain.MessageHandler, opts Options) http.Handler {
	if opts.ExportWidth <= 0 {
		opts.ExportWidth = 1600
	}
	if opts.ExportHeight <= 0 {
		opts.ExportHeight = 900
	}
	s := &server{rooms: rooms, handler: handler, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("GET /rooms", s.roomsHandler)
	mux.HandleFunc("GET /rooms/{id}/export.pdf", s.exportHandler)
	return mux
}

func (s *server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	wsConn := ws.NewConn(uuid.New().String(), conn, s.handler, s.opts.MaxMessageSize)
	wsConn.Start()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Rooms   int           `json:"rooms"`
	Clients int           `json:"clients"`
	Events  *events.Stats `json:"events,omitempty"`
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.rooms.Stats()
	resp := statsResponse{Rooms: rooms, Clients: clients}
	if s.opts.EventStats != nil {
		st := s.opts.EventStats()
		resp.Events = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) roomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.Rooms())
}

func (s *server) exportHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	var ops []domain.Operation
	if !s.rooms.Update(roomID, func(room *hub.Room) { ops = room.Log.Active() }) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := export.WritePDF(&buf, ops, s.opts.ExportWidth, s.opts.ExportHeight); err != nil {
		slog.Error("export failed", "room", roomID, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": roomID + ".pdf"}))
	w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
