// Package protocol defines the JSON wire messages exchanged between
// collaborating clients and coordinator nodes.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client-to-server message types.
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeUpdateCell = "updateCell"
	TypeSelectCell = "selectCell"
	TypeLockCell   = "lockCell"
	TypeUnlockCell = "unlockCell"
	TypePing       = "ping"
)

// Server-to-client message types.
const (
	TypeInitialData  = "initialData"
	TypeCellUpdated  = "cellUpdated"
	TypeCellSelected = "cellSelected"
	TypeCellLocked   = "cellLocked"
	TypeCellUnlocked = "cellUnlocked"
	TypeUserJoined   = "userJoined"
	TypeUserLeft     = "userLeft"
	TypePong         = "pong"
)

// Error codes attached to dropped messages.
const (
	CodeMalformed   = "MALFORMED"
	CodeUnknownType = "UNKNOWN_TYPE"
	CodeOutOfBounds = "OUT_OF_BOUNDS"
	CodeBadState    = "BAD_STATE"
	CodeStoreFailed = "STORE_FAILED"
)

// Error tags a dropped client message with a metric-friendly code. The
// connection is never torn down for one of these.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// ClientMessage is the closed set of inbound messages. Handlers switch over
// the concrete types so a new message is a compile-time-checked addition.
type ClientMessage interface {
	clientMessage()
}

type Join struct {
	RoomID   string
	UserID   string
	UserName string
}

type Leave struct {
	RoomID string
	UserID string
}

type UpdateCell struct {
	RoomID string
	Row    int
	Col    int
	Value  string
}

type SelectCell struct {
	RoomID   string
	UserID   string
	UserName string
	Row      int
	Col      int
}

type LockCell struct {
	RoomID string
	Row    int
	Col    int
	UserID string
}

type UnlockCell struct {
	RoomID string
	Row    int
	Col    int
	UserID string
}

type Ping struct{}

func (Join) clientMessage()       {}
func (Leave) clientMessage()      {}
func (UpdateCell) clientMessage() {}
func (SelectCell) clientMessage() {}
func (LockCell) clientMessage()   {}
func (UnlockCell) clientMessage() {}
func (Ping) clientMessage()       {}

// envelope holds the superset of client message fields. Row and col are
// pointers so that zero coordinates are distinguishable from absent ones.
type envelope struct {
	Type     string  `json:"type"`
	RoomID   string  `json:"roomId"`
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	Row      *int    `json:"row"`
	Col      *int    `json:"col"`
	Value    *string `json:"value"`
}

// Decode parses a raw client frame into its typed message. Unparseable
// frames and frames missing required fields yield an *Error.
func Decode(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Code: CodeMalformed, Msg: fmt.Sprintf("unparseable frame: %v", err)}
	}

	switch env.Type {
	case TypeJoin:
		if env.RoomID == "" || env.UserID == "" || env.UserName == "" {
			return nil, &Error{Code: CodeMalformed, Msg: "join requires roomId, userId, userName"}
		}
		return Join{RoomID: env.RoomID, UserID: env.UserID, UserName: env.UserName}, nil
	case TypeLeave:
		if env.RoomID == "" || env.UserID == "" {
			return nil, &Error{Code: CodeMalformed, Msg: "leave requires roomId, userId"}
		}
		return Leave{RoomID: env.RoomID, UserID: env.UserID}, nil
	case TypeUpdateCell:
		if env.RoomID == "" || env.Row == nil || env.Col == nil {
			return nil, &Error{Code: CodeMalformed, Msg: "updateCell requires roomId, row, col"}
		}
		value := ""
		if env.Value != nil {
			value = *env.Value
		}
		return UpdateCell{RoomID: env.RoomID, Row: *env.Row, Col: *env.Col, Value: value}, nil
	case TypeSelectCell:
		if env.RoomID == "" || env.UserID == "" || env.UserName == "" || env.Row == nil || env.Col == nil {
			return nil, &Error{Code: CodeMalformed, Msg: "selectCell requires roomId, userId, userName, row, col"}
		}
		return SelectCell{RoomID: env.RoomID, UserID: env.UserID, UserName: env.UserName, Row: *env.Row, Col: *env.Col}, nil
	case TypeLockCell:
		if env.RoomID == "" || env.UserID == "" || env.Row == nil || env.Col == nil {
			return nil, &Error{Code: CodeMalformed, Msg: "lockCell requires roomId, userId, row, col"}
		}
		return LockCell{RoomID: env.RoomID, Row: *env.Row, Col: *env.Col, UserID: env.UserID}, nil
	case TypeUnlockCell:
		if env.RoomID == "" || env.UserID == "" || env.Row == nil || env.Col == nil {
			return nil, &Error{Code: CodeMalformed, Msg: "unlockCell requires roomId, userId, row, col"}
		}
		return UnlockCell{RoomID: env.RoomID, Row: *env.Row, Col: *env.Col, UserID: env.UserID}, nil
	case TypePing:
		return Ping{}, nil
	case "":
		return nil, &Error{Code: CodeMalformed, Msg: "missing message type"}
	default:
		return nil, &Error{Code: CodeUnknownType, Msg: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

// Op names the metric label for an inbound message.
func Op(msg ClientMessage) string {
	switch msg.(type) {
	case Join:
		return TypeJoin
	case Leave:
		return TypeLeave
	case UpdateCell:
		return TypeUpdateCell
	case SelectCell:
		return TypeSelectCell
	case LockCell:
		return TypeLockCell
	case UnlockCell:
		return TypeUnlockCell
	case Ping:
		return TypePing
	default:
		return "unknown"
	}
}
