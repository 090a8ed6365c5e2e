package hub

import "log/slog"

// Deliver sends data to every open member except exclude and returns the
// number of members reached. The room must be locked by the caller, which is
// the case inside Registry.Update and the membership callbacks.
//
// Closed or failing connections are skipped; removing them is left to the
// connection's close path.
func (r *Room) Deliver(data []byte, exclude string) int {
	sent := 0
	for id, m := range r.members {
		if id == exclude || m.Conn == nil || !m.Conn.Open() {
			continue
		}
		if err := m.Conn.Send(data); err != nil {
			slog.Warn("send failed", "room", r.ID, "clientId", id, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Broadcast locks the room and delivers data. Unknown rooms are ignored.
func (h *Registry) Broadcast(roomID string, data []byte, exclude string) int {
	sent := 0
	h.Update(roomID, func(r *Room) { sent = r.Deliver(data, exclude) })
	return sent
}
