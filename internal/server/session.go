package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gridwire/gridwire/internal/fanout"
	"github.com/gridwire/gridwire/internal/lock"
	"github.com/gridwire/gridwire/internal/presence"
	"github.com/gridwire/gridwire/internal/protocol"
	"github.com/gridwire/gridwire/internal/room"
	"github.com/gridwire/gridwire/internal/store"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	storeTimeout   = 5 * time.Second
)

// sessionState is the per-connection protocol state machine.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateJoined
	stateClosed
)

// conn is one live websocket connection. state and the join metadata are
// touched only from the read pump, which processes this connection's
// messages strictly in arrival order.
type conn struct {
	id     string
	ws     *websocket.Conn
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	state    sessionState
	roomID   string
	userID   string
	userName string

	awaitingPong atomic.Bool
	lastPongAt   atomic.Int64
}

func (c *conn) ID() string {
	return c.id
}

// Enqueue queues an outbound payload without blocking. A full buffer cuts
// the connection off; the heartbeat/transport teardown path reclaims it.
func (c *conn) Enqueue(payload []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- payload:
		return true
	default:
		c.cancel()
		return false
	}
}

// CoordinatorOptions configures a session coordinator.
type CoordinatorOptions struct {
	Rows              int
	Cols              int
	LockTTL           time.Duration
	PresenceGrace     time.Duration
	HeartbeatInterval time.Duration
	InstanceID        string
	Metrics           *coordinatorMetrics
}

// Coordinator drives the session protocol for every local connection:
// join/leave, message validation, dispatch to the lock manager, presence
// tracker, and room registry, and reply/broadcast composition.
type Coordinator struct {
	log      *zap.Logger
	store    store.Store
	registry *room.Registry
	locks    *lock.Manager
	presence *presence.Tracker
	bus      *fanout.Bus
	metrics  *coordinatorMetrics

	rows      int
	cols      int
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewCoordinator wires the coordinator's dependencies.
func NewCoordinator(log *zap.Logger, st store.Store, opts CoordinatorOptions) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Rows <= 0 {
		opts.Rows = 100
	}
	if opts.Cols <= 0 {
		opts.Cols = 26
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	return &Coordinator{
		log:       log,
		store:     st,
		registry:  room.NewRegistry(log),
		locks:     lock.NewManager(st, opts.LockTTL, log),
		presence:  presence.NewTracker(st, opts.PresenceGrace, log),
		bus:       fanout.NewBus(st, opts.InstanceID, log),
		metrics:   opts.Metrics,
		rows:      opts.Rows,
		cols:      opts.Cols,
		heartbeat: opts.HeartbeatInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run pumps remote fan-out events into local broadcasts until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	err := c.bus.Run(ctx, func(roomID string, event []byte) {
		c.registry.BroadcastLocal(roomID, event, "")
		c.metrics.recordFanoutDelivered()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop disarms pending grace timers. Called on shutdown.
func (c *Coordinator) Stop() {
	c.presence.Stop()
}

// HandleWS upgrades the HTTP request and services the connection until the
// transport closes. The caller's goroutine runs the read pump.
func (c *Coordinator) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cn := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		sendCh: make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	cn.lastPongAt.Store(time.Now().UnixNano())
	ws.SetPongHandler(func(string) error {
		cn.awaitingPong.Store(false)
		cn.lastPongAt.Store(time.Now().UnixNano())
		return nil
	})

	c.metrics.incConnection()
	c.log.Info("connection opened", zap.String("conn_id", cn.id))

	go c.writePump(cn)
	c.readPump(cn)
	c.disconnect(cn)
}

func (c *Coordinator) readPump(cn *conn) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("transport closed", zap.String("conn_id", cn.id), zap.Error(err))
			}
			return
		}

		start := time.Now()
		msg, err := protocol.Decode(data)
		if err != nil {
			c.dropMessage(cn, "decode", err)
			continue
		}

		op := protocol.Op(msg)
		if err := c.route(cn, msg); err != nil {
			// Dropped message; only transport errors tear a
			// connection down.
			c.dropMessage(cn, op, err)
			c.metrics.observeLatency(op, time.Since(start))
			continue
		}
		c.metrics.observeLatency(op, time.Since(start))
	}
}

func (c *Coordinator) writePump(cn *conn) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	defer cn.ws.Close()

	for {
		select {
		case <-cn.ctx.Done():
			_ = cn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case payload := <-cn.sendCh:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("write failed", zap.String("conn_id", cn.id), zap.Error(err))
				cn.cancel()
				return
			}
		case <-ticker.C:
			if cn.awaitingPong.Load() {
				// Previous ping unanswered: the socket's close event
				// never fired, reap it.
				c.log.Info("reaping unresponsive connection", zap.String("conn_id", cn.id))
				c.metrics.recordHeartbeatReaped()
				cn.cancel()
				return
			}
			cn.awaitingPong.Store(true)
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				cn.cancel()
				return
			}
		}
	}
}

// route dispatches one decoded message. The switch is exhaustive over the
// protocol's client message types.
func (c *Coordinator) route(cn *conn, msg protocol.ClientMessage) error {
	switch m := msg.(type) {
	case protocol.Join:
		return c.handleJoin(cn, m)
	case protocol.Leave:
		return c.handleLeave(cn, m)
	case protocol.UpdateCell:
		return c.handleUpdateCell(cn, m)
	case protocol.SelectCell:
		return c.handleSelectCell(cn, m)
	case protocol.LockCell:
		return c.handleLockCell(cn, m)
	case protocol.UnlockCell:
		return c.handleUnlockCell(cn, m)
	case protocol.Ping:
		return c.handlePing(cn)
	default:
		return &protocol.Error{Code: protocol.CodeUnknownType, Msg: fmt.Sprintf("unhandled message %T", msg)}
	}
}

func (c *Coordinator) handleJoin(cn *conn, m protocol.Join) error {
	if cn.state != stateConnecting {
		return &protocol.Error{Code: protocol.CodeBadState, Msg: "join valid only before joining"}
	}

	ctx, cancel := context.WithTimeout(cn.ctx, storeTimeout)
	defer cancel()

	// A reconnect within the grace window must cancel the pending cleanup
	// before it fires.
	if c.presence.CancelRemoval(m.RoomID, m.UserID) {
		c.metrics.recordGraceCancelled()
	}

	cn.roomID = m.RoomID
	cn.userID = m.UserID
	cn.userName = m.UserName
	c.registry.Add(cn, room.ConnectionState{
		ConnID:   cn.id,
		UserID:   m.UserID,
		UserName: m.UserName,
		RoomID:   m.RoomID,
	})
	c.metrics.setRooms(c.registry.Rooms())
	cn.state = stateJoined

	alreadyPresent, err := c.presence.Join(ctx, m.RoomID, store.Presence{UserID: m.UserID, UserName: m.UserName})
	if err != nil {
		return storeErr("join presence", err)
	}

	cells, err := c.store.Cells(ctx, m.RoomID)
	if err != nil {
		return storeErr("load cells", err)
	}
	locks, err := c.locks.Snapshot(ctx, m.RoomID)
	if err != nil {
		return storeErr("load locks", err)
	}
	users, err := c.presence.ListActive(ctx, m.RoomID, m.UserID)
	if err != nil {
		return storeErr("load presence", err)
	}
	selections, err := c.presence.ListSelections(ctx, m.RoomID, m.UserID)
	if err != nil {
		return storeErr("load selections", err)
	}

	cn.Enqueue(c.encode(protocol.NewInitialData(
		cellViews(cells), userViews(users), selectionViews(selections), lockViews(locks))))

	// Broadcast only on a fresh join; a reconnect within the grace window
	// produces no userJoined.
	if !alreadyPresent {
		c.emit(ctx, m.RoomID, c.encode(protocol.NewUserJoined(m.UserID, m.UserName)), cn.id)
	}

	c.log.Info("user joined room",
		zap.String("conn_id", cn.id),
		zap.String("room_id", m.RoomID),
		zap.String("user_id", m.UserID),
		zap.Bool("reconnect", alreadyPresent))
	return nil
}

func (c *Coordinator) handleLeave(cn *conn, m protocol.Leave) error {
	if cn.state != stateJoined {
		return &protocol.Error{Code: protocol.CodeBadState, Msg: "leave valid only after joining"}
	}

	ctx, cancel := context.WithTimeout(cn.ctx, storeTimeout)
	defer cancel()

	c.registry.Remove(cn.roomID, cn.id)
	c.metrics.setRooms(c.registry.Rooms())
	cn.state = stateClosed

	// Intentional departure: no grace period.
	if err := c.presence.Leave(ctx, m.RoomID, m.UserID); err != nil {
		return storeErr("leave presence", err)
	}
	c.emit(ctx, m.RoomID, c.encode(protocol.NewUserLeft(m.UserID)), cn.id)

	c.log.Info("user left room",
		zap.String("conn_id", cn.id),
		zap.String("room_id", m.RoomID),
		zap.String("user_id", m.UserID))
	return nil
}

func (c *Coordinator) handleUpdateCell(cn *conn, m protocol.UpdateCell) error {
	if cn.state != stateJoined {
		return &protocol.Error{Code: protocol.CodeBadState, Msg: "updateCell valid only after joining"}
	}
	if !c.validCell(m.Row, m.Col) {
		return &protocol.Error{Code: protocol.CodeOutOfBounds, Msg: fmt.Sprintf("cell (%d,%d) outside %dx%d grid", m.Row, m.Col, c.rows, c.cols)}
	}

	ctx, cancel := context.WithTimeout(cn.ctx, storeTimeout)
	defer cancel()

	if err := c.store.SetCell(ctx, m.RoomID, store.CellPos{Row: m.Row, Col: m.Col}, m.Value); err != nil {
		return storeErr("set cell", err)
	}
	// No reply to the sender; it applied the value optimistically.
	c.emit(ctx, m.RoomID, c.encode(protocol.NewCellUpdated(m.Row, m.Col, m.Value)), cn.id)
	return nil
}

func (c *Coordinator) handleSelectCell(cn *conn, m protocol.SelectCell) error {
	if cn.state != stateJoined {
		return &protocol.Error{Code: protocol.CodeBadState, Msg: "selectCell valid only after joining"}
	}
	if !c.validCell(m.Row, m.Col) {
		return &protocol.Error{Code: protocol.CodeOutOfBounds, Msg: fmt.Sprintf("cell (%d,%d) outside %dx%d grid", m.Row, m.Col, c.rows, c.cols)}
	}

	ctx, cancel := context.WithTimeout(cn.ctx, storeTimeout)
	defer cancel()

	sel, err := c.presence.SetSelection(ctx, m.RoomID, store.Selection{
		UserID:   m.UserID,
		UserName: m.UserName,
		Row:      m.Row,
		Col:      m.Col,
	})
	if err != nil {
		return storeErr("set selection", err)
	}
	c.emit(ctx, m.RoomID, c.encode(protocol.NewCellSelected(sel.UserID, sel.UserName, sel.Row, sel.Col, sel.Color)), cn.id)
	return nil
}

func (c *Coordinator) handleLockCell(cn *conn, m protocol.LockCell) error {
	if cn.state != stateJoined {
		return &protocol.Error{Code: protocol.CodeBadState, Msg: "lockCell valid only after joining"}
	}
	if !c.validCell(m.Row, m.Col) {
		return &protocol.Error{Code: protocol.CodeOutOfBounds, Msg: fmt.Sprintf("cell (%d,%d) outside %dx%d grid", m.Row, m.Col, c.rows, c.cols)}
	}

	ctx, cancel := context.WithTimeout(cn.ctx, storeTimeout)
	defer cancel()

	ok, err := c.locks.Acquire(ctx, m.RoomID, store.CellPos{Row: m.Row, Col: m.Col}, m.UserID)
	if err != nil {
		return storeErr("acquire lock", err)
	}
	if !ok {
		// Lock conflict is a silent no-op, not a user-facing error.
		return nil
	}
	c.emit(ctx, m.RoomID, c.encode(protocol.NewCellLocked(m.Row, m.Col, m.UserID)), cn.id)
	return nil
}

func (c *Coordinator) handleUnlockCell(cn *conn, m protocol.UnlockCell) error {
	if cn.state != stateJoined {
		return &protocol.Error{Code: protocol.CodeBadState, Msg: "unlockCell valid only after joining"}
	}
	if !c.validCell(m.Row, m.Col) {
		return &protocol.Error{Code: protocol.CodeOutOfBounds, Msg: fmt.Sprintf("cell (%d,%d) outside %dx%d grid", m.Row, m.Col, c.rows, c.cols)}
	}

	ctx, cancel := context.WithTimeout(cn.ctx, storeTimeout)
	defer cancel()

	if err := c.locks.Release(ctx, m.RoomID, store.CellPos{Row: m.Row, Col: m.Col}, m.UserID); err != nil {
		return storeErr("release lock", err)
	}
	c.emit(ctx, m.RoomID, c.encode(protocol.NewCellUnlocked(m.Row, m.Col)), cn.id)
	return nil
}

func (c *Coordinator) handlePing(cn *conn) error {
	// Application-level liveness; touches no shared state.
	cn.Enqueue(c.encode(protocol.NewPong()))
	return nil
}

// disconnect runs when the transport closes. The connection leaves the
// registry synchronously so it stops receiving local broadcasts; store
// cleanup is deferred by the grace window in case the user reconnects.
func (c *Coordinator) disconnect(cn *conn) {
	cn.cancel()
	if cn.state == stateJoined {
		roomID, userID := cn.roomID, cn.userID
		c.registry.Remove(roomID, cn.id)
		c.metrics.setRooms(c.registry.Rooms())

		c.presence.ScheduleRemoval(roomID, userID, func() {
			if c.registry.HasUser(roomID, userID) {
				// Reconnected on this instance before the window
				// elapsed; cleanup is a no-op.
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := c.presence.Leave(ctx, roomID, userID); err != nil {
				c.log.Warn("grace cleanup failed",
					zap.String("room_id", roomID),
					zap.String("user_id", userID),
					zap.Error(err))
				return
			}
			c.metrics.recordPresenceReaped()
			c.emit(ctx, roomID, c.encode(protocol.NewUserLeft(userID)), "")
		})
	}
	cn.state = stateClosed
	c.metrics.decConnection()
	c.log.Info("connection closed", zap.String("conn_id", cn.id))
}

// emit notifies local connections synchronously, then publishes for other
// instances.
func (c *Coordinator) emit(ctx context.Context, roomID string, event []byte, excludeConnID string) {
	c.registry.BroadcastLocal(roomID, event, excludeConnID)
	if err := c.bus.Publish(ctx, roomID, event); err != nil {
		c.log.Warn("fanout publish failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	c.metrics.recordFanoutPublished()
}

func (c *Coordinator) dropMessage(cn *conn, op string, err error) {
	code := "internal"
	var perr *protocol.Error
	if errors.As(err, &perr) {
		code = perr.Code
	}
	c.metrics.recordError(code)
	c.log.Debug("dropping message",
		zap.String("conn_id", cn.id),
		zap.String("op", op),
		zap.String("code", code),
		zap.Error(err))
}

func (c *Coordinator) validCell(row, col int) bool {
	return row >= 0 && row < c.rows && col >= 0 && col < c.cols
}

func (c *Coordinator) encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("encode event", zap.Error(err))
		return nil
	}
	return data
}

func storeErr(op string, err error) error {
	return &protocol.Error{Code: protocol.CodeStoreFailed, Msg: fmt.Sprintf("%s: %v", op, err)}
}

func cellViews(cells []store.Cell) []protocol.CellView {
	out := make([]protocol.CellView, 0, len(cells))
	for _, cell := range cells {
		out = append(out, protocol.CellView{Row: cell.Pos.Row, Col: cell.Pos.Col, Value: cell.Value})
	}
	return out
}

func userViews(entries []store.Presence) []protocol.UserView {
	out := make([]protocol.UserView, 0, len(entries))
	for _, p := range entries {
		out = append(out, protocol.UserView{ID: p.UserID, Name: p.UserName})
	}
	return out
}

func selectionViews(entries []store.Selection) []protocol.SelectionView {
	out := make([]protocol.SelectionView, 0, len(entries))
	for _, sel := range entries {
		out = append(out, protocol.SelectionView{
			UserID:   sel.UserID,
			UserName: sel.UserName,
			Row:      sel.Row,
			Col:      sel.Col,
			Color:    sel.Color,
		})
	}
	return out
}

func lockViews(locks []store.Lock) []protocol.LockView {
	out := make([]protocol.LockView, 0, len(locks))
	for _, l := range locks {
		out = append(out, protocol.LockView{Row: l.Pos.Row, Col: l.Pos.Col, LockedBy: l.Owner})
	}
	return out
}
