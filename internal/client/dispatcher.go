// Package client implements the command dispatcher that mirrors server
// state locally and owns undo/redo. Only committed edits touch the network;
// draft typing stays local.
package client

import (
	"errors"
	"fmt"
)

// HistoryCap bounds the undo and redo stacks.
const HistoryCap = 50

// CellRef addresses a cell in the mirrored grid.
type CellRef struct {
	Row int
	Col int
}

// Action is the closed set of user intents accepted by Dispatch.
type Action interface {
	action()
}

type SelectCell struct {
	Row int
	Col int
}

type LockCell struct {
	Row int
	Col int
}

type UnlockCell struct {
	Row int
	Col int
}

type SetDraftValue struct {
	Value string
}

type CommitCell struct{}

type DiscardDraft struct{}

type Undo struct{}

type Redo struct{}

func (SelectCell) action()    {}
func (LockCell) action()      {}
func (UnlockCell) action()    {}
func (SetDraftValue) action() {}
func (CommitCell) action()    {}
func (DiscardDraft) action()  {}
func (Undo) action()          {}
func (Redo) action()          {}

// HistoryCommand records an inverse-able operation.
type HistoryCommand interface {
	historyCommand()
}

// CellUpdate remembers a committed value change.
type CellUpdate struct {
	Row int
	Col int
	Old string
	New string
}

// SelectionChange remembers a cursor move. Prev is nil for the first
// selection.
type SelectionChange struct {
	Prev *CellRef
	Next *CellRef
}

func (CellUpdate) historyCommand()      {}
func (SelectionChange) historyCommand() {}

// Sender is the outbound protocol surface the dispatcher drives. Undo and
// redo replay through these same calls, so a replayed edit is
// indistinguishable from an ordinary one to other participants.
type Sender interface {
	SendUpdateCell(row, col int, value string) error
	SendSelectCell(row, col int) error
	SendLockCell(row, col int) error
	SendUnlockCell(row, col int) error
}

// Errors reported by Dispatch for intents that need state it lacks.
var (
	ErrNoSelection = errors.New("no cell selected")
	ErrNoDraft     = errors.New("no draft value pending")
	ErrNothingTo   = errors.New("history stack empty")
)

// Dispatcher applies intents to the local mirror and sends the matching
// protocol messages.
type Dispatcher struct {
	sender Sender

	cells     map[CellRef]string
	selection *CellRef
	draft     *string

	undo []HistoryCommand
	redo []HistoryCommand
}

// NewDispatcher builds a dispatcher around an outbound sender.
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		cells:  make(map[CellRef]string),
	}
}

// Dispatch applies a single intent. The switch is exhaustive over Action.
func (d *Dispatcher) Dispatch(a Action) error {
	switch act := a.(type) {
	case SelectCell:
		return d.selectCell(act)
	case LockCell:
		return d.sender.SendLockCell(act.Row, act.Col)
	case UnlockCell:
		return d.sender.SendUnlockCell(act.Row, act.Col)
	case SetDraftValue:
		// Draft typing never touches the network.
		v := act.Value
		d.draft = &v
		return nil
	case CommitCell:
		return d.commitCell()
	case DiscardDraft:
		d.draft = nil
		return nil
	case Undo:
		return d.undoLast()
	case Redo:
		return d.redoLast()
	default:
		return fmt.Errorf("unhandled action %T", a)
	}
}

// Cell returns the mirrored value for a cell.
func (d *Dispatcher) Cell(row, col int) string {
	return d.cells[CellRef{Row: row, Col: col}]
}

// Selection returns the current cursor, or nil.
func (d *Dispatcher) Selection() *CellRef {
	if d.selection == nil {
		return nil
	}
	ref := *d.selection
	return &ref
}

// UndoDepth and RedoDepth expose stack sizes for UI affordances.
func (d *Dispatcher) UndoDepth() int { return len(d.undo) }
func (d *Dispatcher) RedoDepth() int { return len(d.redo) }

// ApplyRemoteCellUpdate folds another participant's committed edit into the
// mirror without touching history.
func (d *Dispatcher) ApplyRemoteCellUpdate(row, col int, value string) {
	ref := CellRef{Row: row, Col: col}
	if value == "" {
		delete(d.cells, ref)
		return
	}
	d.cells[ref] = value
}

func (d *Dispatcher) selectCell(act SelectCell) error {
	next := CellRef{Row: act.Row, Col: act.Col}
	if err := d.sender.SendSelectCell(next.Row, next.Col); err != nil {
		return err
	}
	prev := d.selection
	d.selection = &next
	d.push(SelectionChange{Prev: prev, Next: &next})
	return nil
}

func (d *Dispatcher) commitCell() error {
	if d.selection == nil {
		return ErrNoSelection
	}
	if d.draft == nil {
		return ErrNoDraft
	}
	ref := *d.selection
	oldValue := d.cells[ref]
	newValue := *d.draft
	if err := d.sender.SendUpdateCell(ref.Row, ref.Col, newValue); err != nil {
		return err
	}
	d.setCell(ref, newValue)
	d.draft = nil
	d.push(CellUpdate{Row: ref.Row, Col: ref.Col, Old: oldValue, New: newValue})
	return nil
}

func (d *Dispatcher) undoLast() error {
	if len(d.undo) == 0 {
		return ErrNothingTo
	}
	cmd := d.undo[len(d.undo)-1]
	d.undo = d.undo[:len(d.undo)-1]

	switch c := cmd.(type) {
	case CellUpdate:
		if err := d.sender.SendUpdateCell(c.Row, c.Col, c.Old); err != nil {
			d.undo = append(d.undo, cmd)
			return err
		}
		d.setCell(CellRef{Row: c.Row, Col: c.Col}, c.Old)
	case SelectionChange:
		if c.Prev != nil {
			if err := d.sender.SendSelectCell(c.Prev.Row, c.Prev.Col); err != nil {
				d.undo = append(d.undo, cmd)
				return err
			}
		}
		d.selection = c.Prev
	}
	d.redo = bounded(append(d.redo, cmd))
	return nil
}

func (d *Dispatcher) redoLast() error {
	if len(d.redo) == 0 {
		return ErrNothingTo
	}
	cmd := d.redo[len(d.redo)-1]
	d.redo = d.redo[:len(d.redo)-1]

	switch c := cmd.(type) {
	case CellUpdate:
		if err := d.sender.SendUpdateCell(c.Row, c.Col, c.New); err != nil {
			d.redo = append(d.redo, cmd)
			return err
		}
		d.setCell(CellRef{Row: c.Row, Col: c.Col}, c.New)
	case SelectionChange:
		if err := d.sender.SendSelectCell(c.Next.Row, c.Next.Col); err != nil {
			d.redo = append(d.redo, cmd)
			return err
		}
		d.selection = c.Next
	}
	// Redone commands go back on the undo stack without clearing redo.
	d.undo = bounded(append(d.undo, cmd))
	return nil
}

// push records a fresh command; any redoable future is discarded.
func (d *Dispatcher) push(cmd HistoryCommand) {
	d.undo = bounded(append(d.undo, cmd))
	d.redo = d.redo[:0]
}

func (d *Dispatcher) setCell(ref CellRef, value string) {
	if value == "" {
		delete(d.cells, ref)
		return
	}
	d.cells[ref] = value
}

// bounded drops the oldest entries beyond HistoryCap.
func bounded(stack []HistoryCommand) []HistoryCommand {
	if len(stack) <= HistoryCap {
		return stack
	}
	copy(stack, stack[len(stack)-HistoryCap:])
	return stack[:HistoryCap]
}
