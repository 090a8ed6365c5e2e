package domain

import "time"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

const KindStroke = "stroke"

// DefaultPalette is handed out round-robin as member colors.
var DefaultPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
}

type Operation struct {
	ID        int     `json:"id"`
	UserID    string  `json:"userId"`
	Kind      string  `json:"kind"`
	Tool      string  `json:"tool,omitempty"`
	Color     string  `json:"color,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Points    []Point `json:"points"`
	Completed bool    `json:"completed"`
	Undone    bool    `json:"undone"`
	Timestamp int64   `json:"timestamp"`
}

// User is the identity part of a member, safe to send to clients.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Member struct {
	User
	JoinedAt time.Time
	Conn     Sender
}

// Sender is the only capability a room holds on a member's connection.
type Sender interface {
	Send(data []byte) error
	Open() bool
}

type Connection interface {
	Sender
	ID() string
	Close() error
}

type MessageHandler interface {
	Connect(conn Connection)
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}
