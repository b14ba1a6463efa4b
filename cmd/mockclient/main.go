// Command mockclient drives a scripted editing session against a running
// coordinator node, exercising the full wire protocol: join, select, lock,
// draft, commit, unlock, undo, redo, leave.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gridwire/gridwire/internal/client"
	"github.com/gridwire/gridwire/internal/protocol"
)

type appConfig struct {
	nodeAddr string
	roomID   string
	userID   string
	userName string
	row      int
	col      int
	value    string
	timeout  time.Duration
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("mock client failed: %v", err)
	}
	log.Printf("mock client completed scenario in room %s", cfg.roomID)
}

func parseConfig() appConfig {
	var cfg appConfig
	flag.StringVar(&cfg.nodeAddr, "node", "127.0.0.1:8080", "Coordinator websocket address")
	flag.StringVar(&cfg.roomID, "room", "demo", "Room to join")
	flag.StringVar(&cfg.userID, "user", "mock-user", "User id")
	flag.StringVar(&cfg.userName, "name", "Mock User", "Display name")
	flag.IntVar(&cfg.row, "row", 0, "Target cell row")
	flag.IntVar(&cfg.col, "col", 0, "Target cell column")
	flag.StringVar(&cfg.value, "value", "42", "Value to commit")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Overall scenario timeout")
	flag.Parse()
	return cfg
}

func run(cfg appConfig) error {
	u := url.URL{Scheme: "ws", Host: cfg.nodeAddr, Path: "/ws"}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer ws.Close()
	deadline := time.Now().Add(cfg.timeout)
	_ = ws.SetReadDeadline(deadline)

	sender := &wsSender{ws: ws, roomID: cfg.roomID, userID: cfg.userID, userName: cfg.userName}
	dispatcher := client.NewDispatcher(sender)

	if err := sender.send(map[string]any{
		"type": protocol.TypeJoin, "roomId": cfg.roomID, "userId": cfg.userID, "userName": cfg.userName,
	}); err != nil {
		return err
	}
	snapshot, err := waitFor(ws, protocol.TypeInitialData)
	if err != nil {
		return fmt.Errorf("await initial data: %w", err)
	}
	for _, cell := range snapshot.Cells {
		dispatcher.ApplyRemoteCellUpdate(cell.Row, cell.Col, cell.Value)
	}
	log.Printf("joined room %s: %d cells, %d active users, %d locks",
		cfg.roomID, len(snapshot.Cells), len(snapshot.ActiveUsers), len(snapshot.Locks))

	steps := []client.Action{
		client.SelectCell{Row: cfg.row, Col: cfg.col},
		client.LockCell{Row: cfg.row, Col: cfg.col},
		client.SetDraftValue{Value: cfg.value},
		client.CommitCell{},
		client.UnlockCell{Row: cfg.row, Col: cfg.col},
		client.Undo{},
		client.Redo{},
	}
	for _, step := range steps {
		if err := dispatcher.Dispatch(step); err != nil {
			return fmt.Errorf("dispatch %T: %w", step, err)
		}
	}

	if got := dispatcher.Cell(cfg.row, cfg.col); got != cfg.value {
		return fmt.Errorf("mirror holds %q after redo, want %q", got, cfg.value)
	}

	return sender.send(map[string]any{
		"type": protocol.TypeLeave, "roomId": cfg.roomID, "userId": cfg.userID,
	})
}

// wsSender adapts the dispatcher's outbound surface to websocket frames.
type wsSender struct {
	ws       *websocket.Conn
	roomID   string
	userID   string
	userName string
}

func (s *wsSender) send(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) SendUpdateCell(row, col int, value string) error {
	return s.send(map[string]any{
		"type": protocol.TypeUpdateCell, "roomId": s.roomID, "row": row, "col": col, "value": value,
	})
}

func (s *wsSender) SendSelectCell(row, col int) error {
	return s.send(map[string]any{
		"type": protocol.TypeSelectCell, "roomId": s.roomID, "userId": s.userID,
		"userName": s.userName, "row": row, "col": col,
	})
}

func (s *wsSender) SendLockCell(row, col int) error {
	return s.send(map[string]any{
		"type": protocol.TypeLockCell, "roomId": s.roomID, "userId": s.userID, "row": row, "col": col,
	})
}

func (s *wsSender) SendUnlockCell(row, col int) error {
	return s.send(map[string]any{
		"type": protocol.TypeUnlockCell, "roomId": s.roomID, "userId": s.userID, "row": row, "col": col,
	})
}

func waitFor(ws *websocket.Conn, msgType string) (protocol.ServerEnvelope, error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return protocol.ServerEnvelope{}, err
		}
		env, err := protocol.DecodeServer(data)
		if err != nil {
			continue
		}
		if env.Type == msgType {
			return env, nil
		}
	}
}
