package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"drawsync-server/domain"
	"drawsync-server/events"
	"drawsync-server/hub"
	"drawsync-server/oplog"
)

const DefaultRoom = "default"

// Emitter receives a copy of every accepted room mutation.
type Emitter interface {
	Emit(e events.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(events.Event) {}

// session is the per-connection state. It only moves from unjoined to joined.
type session struct {
	conn   domain.Connection
	color  string
	roomID string
	joined bool
}

type Handler struct {
	rooms    *hub.Registry
	emitter  Emitter
	palette  []string
	arrivals atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

func NewHandler(rooms *hub.Registry, palette []string, emitter Emitter) *Handler {
	if len(palette) == 0 {
		palette = domain.DefaultPalette
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Handler{
		rooms:    rooms,
		emitter:  emitter,
		palette:  palette,
		sessions: make(map[string]*session),
	}
}

// Connect registers a new connection and assigns its color in arrival order.
func (h *Handler) Connect(conn domain.Connection) {
	h.session(conn)
}

func (h *Handler) session(conn domain.Connection) *session {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[conn.ID()]
	if !ok {
		n := h.arrivals.Add(1) - 1
		s = &session{conn: conn, color: h.palette[n%uint64(len(h.palette))]}
		h.sessions[conn.ID()] = s
		slog.Debug("client connected", "clientId", conn.ID(), "color", s.color)
	}
	return s
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	s := h.session(conn)

	msg, err := Decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		reply(conn, NewError(err.Error()))
		return
	}

	if m, ok := msg.(*Join); ok {
		h.join(s, m)
		return
	}
	if !s.joined {
		slog.Debug("message before join ignored", "clientId", conn.ID(), "type", msg.MessageType())
		return
	}

	switch m := msg.(type) {
	case *DrawStart:
		h.drawStart(s, m)
	case *DrawMove:
		h.drawMove(s, m)
	case *DrawEnd:
		h.drawEnd(s)
	case *CursorMove:
		h.rooms.Broadcast(s.roomID, encode(NewCursor(conn.ID(), m.X, m.Y)), conn.ID())
	case *Undo:
		h.history(s, TypeUndo, (*oplog.Log).UndoLast, events.KindUndo)
	case *Redo:
		h.history(s, TypeRedo, (*oplog.Log).RedoLast, events.KindRedo)
	case *Clear:
		h.clear(s)
	}
}

// Disconnect removes the member and tells the rest of the room.
func (h *Handler) Disconnect(conn domain.Connection) {
	h.mu.Lock()
	s, ok := h.sessions[conn.ID()]
	delete(h.sessions, conn.ID())
	h.mu.Unlock()

	if !ok || !s.joined {
		return
	}

	left := encode(NewUserLeft(conn.ID()))
	h.rooms.RemoveMember(s.roomID, conn.ID(), func(r *hub.Room) {
		r.Deliver(left, conn.ID())
	})
	h.emitter.Emit(events.Event{Room: s.roomID, Kind: events.KindLeave, UserID: conn.ID()})
}

func (h *Handler) join(s *session, m *Join) {
	id := s.conn.ID()
	if s.joined {
		slog.Debug("duplicate join ignored", "clientId", id, "room", s.roomID)
		return
	}

	roomID := strings.TrimSpace(m.RoomID)
	if roomID == "" {
		roomID = DefaultRoom
	}
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = "User " + shortID(id)
	}

	member := &domain.Member{
		User:     domain.User{ID: id, Name: name, Color: s.color},
		JoinedAt: time.Now(),
		Conn:     s.conn,
	}
	h.rooms.AddMember(roomID, member, func(r *hub.Room) {
		reply(s.conn, NewInit(member.User, r.Users(), r.Log.Snapshot()))
		r.Deliver(encode(NewUserJoined(member.User)), id)
	})
	s.joined = true
	s.roomID = roomID

	h.emitter.Emit(events.Event{Room: roomID, Kind: events.KindJoin, UserID: id})
}

func (h *Handler) drawStart(s *session, m *DrawStart) {
	id := s.conn.ID()
	var (
		op      domain.Operation
		ended   domain.Operation
		dangled bool
	)
	ok := h.rooms.Update(s.roomID, func(r *hub.Room) {
		// A stroke left open by a lost draw-end is closed here so peers see it
		// complete before the new one starts.
		if open, found := r.Log.FindOpen(id); found {
			if ended, dangled = r.Log.Complete(open.ID); dangled {
				r.Deliver(encode(NewDraw(TypeDrawEnd, ended, id, nil)), id)
			}
		}
		op = r.Log.Append(oplog.Draft{
			UserID: id,
			Tool:   m.Tool,
			Color:  m.Color,
			Width:  m.Width,
			Points: []domain.Point{*m.Point},
		})
		r.Deliver(encode(NewDraw(TypeDrawStart, op, id, nil)), id)
	})
	if !ok {
		return
	}
	if dangled {
		h.emitter.Emit(events.Event{Room: s.roomID, Kind: events.KindDrawEnd, UserID: id, OperationID: events.Op(ended.ID)})
	}
	h.emitter.Emit(events.Event{Room: s.roomID, Kind: events.KindDrawStart, UserID: id, OperationID: events.Op(op.ID)})
}

func (h *Handler) drawMove(s *session, m *DrawMove) {
	id := s.conn.ID()
	h.rooms.Update(s.roomID, func(r *hub.Room) {
		open, ok := r.Log.FindOpen(id)
		if !ok {
			slog.Debug("draw-move without open stroke", "room", s.roomID, "clientId", id)
			return
		}
		op, ok := r.Log.AppendPoint(open.ID, *m.Point)
		if !ok {
			return
		}
		r.Deliver(encode(NewDraw(TypeDrawMove, op, id, m.Point)), id)
	})
}

func (h *Handler) drawEnd(s *session) {
	id := s.conn.ID()
	var (
		op   domain.Operation
		done bool
	)
	h.rooms.Update(s.roomID, func(r *hub.Room) {
		open, ok := r.Log.FindOpen(id)
		if !ok {
			slog.Debug("draw-end without open stroke", "room", s.roomID, "clientId", id)
			return
		}
		if op, done = r.Log.Complete(open.ID); !done {
			return
		}
		r.Deliver(encode(NewDraw(TypeDrawEnd, op, id, nil)), id)
	})
	if done {
		h.emitter.Emit(events.Event{Room: s.roomID, Kind: events.KindDrawEnd, UserID: id, OperationID: events.Op(op.ID)})
	}
}

// history runs undo or redo. The result goes to every member, the requester
// included, since only the server knows which operation was picked.
func (h *Handler) history(s *session, typ string, pick func(*oplog.Log) (domain.Operation, bool), kind events.Kind) {
	var (
		op    domain.Operation
		found bool
	)
	h.rooms.Update(s.roomID, func(r *hub.Room) {
		if op, found = pick(r.Log); !found {
			return
		}
		r.Deliver(encode(NewHistory(typ, op.ID)), "")
	})
	if !found {
		slog.Debug("nothing to "+typ, "room", s.roomID, "clientId", s.conn.ID())
		return
	}
	slog.Debug(typ, "room", s.roomID, "clientId", s.conn.ID(), "operationId", op.ID)
	h.emitter.Emit(events.Event{Room: s.roomID, Kind: kind, UserID: s.conn.ID(), OperationID: events.Op(op.ID)})
}

func (h *Handler) clear(s *session) {
	ok := h.rooms.Update(s.roomID, func(r *hub.Room) {
		r.Log.Clear()
		r.Deliver(encode(NewCleared()), "")
	})
	if !ok {
		return
	}
	slog.Info("room cleared", "room", s.roomID, "clientId", s.conn.ID())
	h.emitter.Emit(events.Event{Room: s.roomID, Kind: events.KindClear, UserID: s.conn.ID()})
}

func reply(conn domain.Connection, v any) {
	if err := conn.Send(encode(v)); err != nil {
		slog.Warn("reply failed", "clientId", conn.ID(), "error", err)
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal error", "error", err)
	}
	return data
}

func shortID(id string) string {
	if len(id) > 4 {
		return id[:4]
	}
	return id
}
