package protocol

import "encoding/json"

// View types embedded in server events. Field names are part of the wire
// contract and must not change.

type CellView struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Value string `json:"value"`
}

type UserView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SelectionView struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Color    string `json:"color"`
}

type LockView struct {
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	LockedBy string `json:"lockedBy"`
}

// InitialData is the one-shot room snapshot sent to a joining connection.
type InitialData struct {
	Type        string          `json:"type"`
	Cells       []CellView      `json:"cells"`
	ActiveUsers []UserView      `json:"activeUsers"`
	Selections  []SelectionView `json:"selections"`
	Locks       []LockView      `json:"locks"`
}

type CellUpdated struct {
	Type  string `json:"type"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Value string `json:"value"`
}

type CellSelected struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Color    string `json:"color"`
}

type CellLocked struct {
	Type   string `json:"type"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	UserID string `json:"userId"`
}

type CellUnlocked struct {
	Type string `json:"type"`
	Row  int    `json:"row"`
	Col  int    `json:"col"`
}

type UserJoined struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type Pong struct {
	Type string `json:"type"`
}

func NewInitialData(cells []CellView, users []UserView, selections []SelectionView, locks []LockView) InitialData {
	return InitialData{Type: TypeInitialData, Cells: cells, ActiveUsers: users, Selections: selections, Locks: locks}
}

func NewCellUpdated(row, col int, value string) CellUpdated {
	return CellUpdated{Type: TypeCellUpdated, Row: row, Col: col, Value: value}
}

func NewCellSelected(userID, userName string, row, col int, color string) CellSelected {
	return CellSelected{Type: TypeCellSelected, UserID: userID, UserName: userName, Row: row, Col: col, Color: color}
}

func NewCellLocked(row, col int, userID string) CellLocked {
	return CellLocked{Type: TypeCellLocked, Row: row, Col: col, UserID: userID}
}

func NewCellUnlocked(row, col int) CellUnlocked {
	return CellUnlocked{Type: TypeCellUnlocked, Row: row, Col: col}
}

func NewUserJoined(userID, userName string) UserJoined {
	return UserJoined{Type: TypeUserJoined, UserID: userID, UserName: userName}
}

func NewUserLeft(userID string) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: userID}
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}

// ServerEnvelope is the superset of server event fields, used by clients and
// tests to inspect an incoming frame before acting on its type.
type ServerEnvelope struct {
	Type        string          `json:"type"`
	Row         int             `json:"row"`
	Col         int             `json:"col"`
	Value       string          `json:"value"`
	UserID      string          `json:"userId"`
	UserName    string          `json:"userName"`
	Color       string          `json:"color"`
	Cells       []CellView      `json:"cells"`
	ActiveUsers []UserView      `json:"activeUsers"`
	Selections  []SelectionView `json:"selections"`
	Locks       []LockView      `json:"locks"`
}

// DecodeServer parses a server frame into the generic envelope.
func DecodeServer(data []byte) (ServerEnvelope, error) {
	var env ServerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ServerEnvelope{}, err
	}
	return env, nil
}
