package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"drawsync-server/domain"
)

const (
	TypeJoin       = "join"
	TypeDrawStart  = "draw-start"
	TypeDrawMove   = "draw-move"
	TypeDrawEnd    = "draw-end"
	TypeCursorMove = "cursor-move"
	TypeUndo       = "undo"
	TypeRedo       = "redo"
	TypeClear      = "clear"

	TypeInit       = "init"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
	TypeError      = "error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is implemented by every client message.
type Inbound interface {
	MessageType() string
}

type Join struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
}

type DrawStart struct {
	Point *domain.Point `json:"point"`
	Color string        `json:"color"`
	Width float64       `json:"width"`
	Tool  string        `json:"tool"`
}

type DrawMove struct {
	Point *domain.Point `json:"point"`
}

type DrawEnd struct{}

type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Undo struct{}

type Redo struct{}

type Clear struct{}

func (*Join) MessageType() string       { return TypeJoin }
func (*DrawStart) MessageType() string  { return TypeDrawStart }
func (*DrawMove) MessageType() string   { return TypeDrawMove }
func (*DrawEnd) MessageType() string    { return TypeDrawEnd }
func (*CursorMove) MessageType() string { return TypeCursorMove }
func (*Undo) MessageType() string       { return TypeUndo }
func (*Redo) MessageType() string       { return TypeRedo }
func (*Clear) MessageType() string      { return TypeClear }

func (m *DrawStart) validate() error {
	if m.Point == nil {
		return errors.New("draw-start requires a point")
	}
	if m.Width < 0 {
		return fmt.Errorf("negative width %v", m.Width)
	}
	return nil
}

func (m *DrawMove) validate() error {
	if m.Point == nil {
		return errors.New("draw-move requires a point")
	}
	return nil
}

type validator interface {
	validate() error
}

// Decode reads the type tag first and then the concrete message.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Inbound
	switch env.Type {
	case TypeJoin:
		msg = &Join{}
	case TypeDrawStart:
		msg = &DrawStart{}
	case TypeDrawMove:
		msg = &DrawMove{}
	case TypeDrawEnd:
		msg = &DrawEnd{}
	case TypeCursorMove:
		msg = &CursorMove{}
	case TypeUndo:
		msg = &Undo{}
	case TypeRedo:
		msg = &Redo{}
	case TypeClear:
		msg = &Clear{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if v, ok := msg.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return msg, nil
}

// Outbound messages. Constructors fill in the type tag.

type Init struct {
	Type       string             `json:"type"`
	UserID     string             `json:"userId"`
	Color      string             `json:"color"`
	Users      []domain.User      `json:"users"`
	Operations []domain.Operation `json:"operations"`
}

type UserJoined struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Draw carries draw-start, draw-move and draw-end. Point is only set for
// draw-move.
type Draw struct {
	Type      string           `json:"type"`
	Operation domain.Operation `json:"operation"`
	UserID    string           `json:"userId"`
	Point     *domain.Point    `json:"point,omitempty"`
}

type Cursor struct {
	Type   string  `json:"type"`
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// History carries undo and redo.
type History struct {
	Type        string `json:"type"`
	OperationID int    `json:"operationId"`
}

type Cleared struct {
	Type string `json:"type"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewInit(user domain.User, users []domain.User, ops []domain.Operation) Init {
	return Init{Type: TypeInit, UserID: user.ID, Color: user.Color, Users: users, Operations: ops}
}

func NewUserJoined(user domain.User) UserJoined {
	return UserJoined{Type: TypeUserJoined, User: user}
}

func NewUserLeft(userID string) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: userID}
}

func NewDraw(typ string, op domain.Operation, userID string, point *domain.Point) Draw {
	return Draw{Type: typ, Operation: op, UserID: userID, Point: point}
}

func NewCursor(userID string, x, y float64) Cursor {
	return Cursor{Type: TypeCursorMove, UserID: userID, X: x, Y: y}
}

func NewHistory(typ string, operationID int) History {
	return History{Type: typ, OperationID: operationID}
}

func NewCleared() Cleared {
	return Cleared{Type: TypeClear}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
