package devbackend

import (
	"errors"
	"math/rand"
	"slices"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
)

var ErrWrongTurn = errors.New("not your turn")
var ErrWrongPhase = errors.New("command not valid in this phase")
var ErrIllegalPlacement = errors.New("unit cannot be placed there")
var ErrUnitNotNeeded = errors.New("no unit of that size left to place")
var ErrNoUnitThere = errors.New("no unit at that cell")
var ErrAlreadyShot = errors.New("cell already attacked")
var ErrOutOfBounds = errors.New("cell outside the board")
var ErrNotSeated = errors.New("slot has no player")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Unit struct {
	Cells     [][2]int
	Destroyed bool
}

type Seat struct {
	AccountID   string
	DisplayName string
	Token       string
	Ready       bool // agreed to start
	BattleReady bool // all units placed
	Board       engine.Grid
	Attacks     engine.Grid
	Units       []Unit
}

func (s *Seat) Bound() bool { return s.AccountID != "" }

func (s *Seat) remaining() int {
	n := 0
	for _, u := range s.Units {
		if !u.Destroyed {
			n++
		}
	}
	return n
}

type State struct {
	Mode        Mode
	Seats       [2]Seat
	Turn        engine.Slot
	Winner      engine.Slot
	Surrendered engine.Slot
	Deleted     bool
	LastAction  *engine.LastAction
}

type CommandType string

const (
	CmdReady      CommandType = "Ready"
	CmdPlaceUnit  CommandType = "PlaceUnit"
	CmdRemoveUnit CommandType = "RemoveUnit"
	CmdAutoPlace  CommandType = "AutoPlace"
	CmdAttack     CommandType = "Attack"
	CmdSurrender  CommandType = "Surrender"
)

type Command struct {
	Type       CommandType
	Slot       engine.Slot
	Row        int
	Col        int
	Size       int
	Horizontal bool
}

type EventType string

const (
	EvtReady         EventType = "Ready"
	EvtBattleReady   EventType = "BattleReady"
	EvtUnitPlaced    EventType = "UnitPlaced"
	EvtUnitRemoved   EventType = "UnitRemoved"
	EvtShotMissed    EventType = "ShotMissed"
	EvtShotHit       EventType = "ShotHit"
	EvtUnitDestroyed EventType = "UnitDestroyed"
	EvtTurnAdvanced  EventType = "TurnAdvanced"
	EvtGameCompleted EventType = "GameCompleted"
	EvtSurrendered   EventType = "Surrendered"
)

type Event struct {
	Type EventType
	Slot engine.Slot
	Row  int
	Col  int
}

func NewState(mode Mode) State {
	s := State{Mode: mode}
	for i := range s.Seats {
		s.Seats[i].Board = engine.NewGrid(mode.Size)
		s.Seats[i].Attacks = engine.NewGrid(mode.Size)
	}
	return s
}

func (s *State) seat(slot engine.Slot) *Seat { return &s.Seats[slot.Index()] }

func DerivePhase(s State) engine.Phase {
	if s.Deleted || s.Winner != engine.NoSlot || s.Surrendered != engine.NoSlot {
		return engine.PhaseTerminal
	}
	a, b := s.Seats[0], s.Seats[1]
	if !(a.Bound() && b.Bound() && a.Ready && b.Ready) {
		return engine.PhaseMatchmaking
	}
	if a.BattleReady && b.BattleReady {
		return engine.PhaseBattle
	}
	return engine.PhaseSetup
}

// UnitsToPlace lists the sizes the slot still has to put on its board.
func UnitsToPlace(s State, slot engine.Slot) []int {
	left := slices.Clone(s.Mode.Units)
	for _, u := range s.Seats[slot.Index()].Units {
		if i := slices.Index(left, len(u.Cells)); i >= 0 {
			left = slices.Delete(left, i, i+1)
		}
	}
	return left
}

// Apply runs cmd against s in place. On error s is left untouched.
func Apply(s *State, cmd Command) ([]Event, error) {
	if _, ok := engine.ParseSlot(string(cmd.Slot)); !ok {
		return nil, ErrNotSeated
	}
	me := s.seat(cmd.Slot)
	if !me.Bound() {
		return nil, ErrNotSeated
	}
	phase := DerivePhase(*s)

	switch cmd.Type {
	case CmdReady:
		switch phase {
		case engine.PhaseMatchmaking:
			me.Ready = true
			return []Event{{Type: EvtReady, Slot: cmd.Slot}}, nil
		case engine.PhaseSetup:
			if len(UnitsToPlace(*s, cmd.Slot)) > 0 {
				return nil, ErrWrongPhase
			}
			return s.battleReady(cmd.Slot), nil
		}
		return nil, ErrWrongPhase

	case CmdPlaceUnit:
		if phase != engine.PhaseSetup || me.BattleReady {
			return nil, ErrWrongPhase
		}
		if !slices.Contains(UnitsToPlace(*s, cmd.Slot), cmd.Size) {
			return nil, ErrUnitNotNeeded
		}
		cells, ok := unitCells(me.Board, cmd.Row, cmd.Col, cmd.Size, cmd.Horizontal)
		if !ok {
			return nil, ErrIllegalPlacement
		}
		place(me, cells)
		events := []Event{{Type: EvtUnitPlaced, Slot: cmd.Slot, Row: cmd.Row, Col: cmd.Col}}
		if len(UnitsToPlace(*s, cmd.Slot)) == 0 {
			events = append(events, s.battleReady(cmd.Slot)...)
		}
		return events, nil

	case CmdRemoveUnit:
		if phase != engine.PhaseSetup {
			return nil, ErrWrongPhase
		}
		i := slices.IndexFunc(me.Units, func(u Unit) bool {
			return slices.Contains(u.Cells, [2]int{cmd.Row, cmd.Col})
		})
		if i < 0 {
			return nil, ErrNoUnitThere
		}
		for _, c := range me.Units[i].Cells {
			me.Board[c[0]][c[1]] = engine.CellEmpty
		}
		me.Units = slices.Delete(me.Units, i, i+1)
		me.BattleReady = false
		return []Event{{Type: EvtUnitRemoved, Slot: cmd.Slot, Row: cmd.Row, Col: cmd.Col}}, nil

	case CmdAutoPlace:
		if phase != engine.PhaseSetup || me.BattleReady {
			return nil, ErrWrongPhase
		}
		autoPlace(me, s.Mode, rand.Intn)
		return s.battleReady(cmd.Slot), nil

	case CmdAttack:
		if phase != engine.PhaseBattle {
			return nil, ErrWrongPhase
		}
		if s.Turn != cmd.Slot {
			return nil, ErrWrongTurn
		}
		return s.attack(cmd.Slot, cmd.Row, cmd.Col)

	case CmdSurrender:
		if phase != engine.PhaseSetup && phase != engine.PhaseBattle {
			return nil, ErrWrongPhase
		}
		s.Surrendered = cmd.Slot
		s.Winner = cmd.Slot.Other()
		s.Turn = engine.NoSlot
		return []Event{{Type: EvtSurrendered, Slot: cmd.Slot}, {Type: EvtGameCompleted, Slot: s.Winner}}, nil

	default:
		return nil, ErrUnsupportedCommand
	}
}

func (s *State) battleReady(slot engine.Slot) []Event {
	s.seat(slot).BattleReady = true
	events := []Event{{Type: EvtBattleReady, Slot: slot}}
	if s.seat(slot.Other()).BattleReady {
		s.Turn = engine.SlotA
		events = append(events, Event{Type: EvtTurnAdvanced, Slot: s.Turn})
	}
	return events
}

// attack follows the house rules: a hit shoots again, a miss passes the turn,
// and a destroyed unit has its whole outline marked as misses.
func (s *State) attack(slot engine.Slot, row, col int) ([]Event, error) {
	me, them := s.seat(slot), s.seat(slot.Other())
	if !me.Attacks.In(row, col) {
		return nil, ErrOutOfBounds
	}
	if me.Attacks[row][col] != engine.CellEmpty {
		return nil, ErrAlreadyShot
	}

	if them.Board[row][col] != engine.CellOccupied {
		me.Attacks[row][col] = engine.CellMiss
		them.Board[row][col] = engine.CellMiss
		s.Turn = slot.Other()
		s.LastAction = &engine.LastAction{Slot: slot, Row: row, Col: col, Result: "miss"}
		return []Event{
			{Type: EvtShotMissed, Slot: slot, Row: row, Col: col},
			{Type: EvtTurnAdvanced, Slot: s.Turn},
		}, nil
	}

	me.Attacks[row][col] = engine.CellHit
	them.Board[row][col] = engine.CellHit
	s.LastAction = &engine.LastAction{Slot: slot, Row: row, Col: col, Result: "hit"}
	events := []Event{{Type: EvtShotHit, Slot: slot, Row: row, Col: col}}

	i := slices.IndexFunc(them.Units, func(u Unit) bool { return slices.Contains(u.Cells, [2]int{row, col}) })
	if i < 0 {
		return events, nil
	}
	u := &them.Units[i]
	for _, c := range u.Cells {
		if them.Board[c[0]][c[1]] != engine.CellHit {
			return events, nil
		}
	}

	u.Destroyed = true
	s.LastAction.Result = "destroyed"
	for _, c := range u.Cells {
		me.Attacks[c[0]][c[1]] = engine.CellDestroyed
		them.Board[c[0]][c[1]] = engine.CellDestroyed
	}
	for _, n := range outline(me.Attacks, u.Cells) {
		if me.Attacks[n[0]][n[1]] == engine.CellEmpty {
			me.Attacks[n[0]][n[1]] = engine.CellMiss
		}
		if them.Board[n[0]][n[1]] == engine.CellEmpty {
			them.Board[n[0]][n[1]] = engine.CellMiss
		}
	}
	events = append(events, Event{Type: EvtUnitDestroyed, Slot: slot, Row: row, Col: col})

	if them.remaining() == 0 {
		s.Winner = slot
		s.Turn = engine.NoSlot
		events = append(events, Event{Type: EvtGameCompleted, Slot: slot})
	}
	return events, nil
}

// unitCells returns the cells of a unit, or false when it leaves the board or
// touches another unit, diagonals included.
func unitCells(board engine.Grid, row, col, size int, horizontal bool) ([][2]int, bool) {
	if size <= 0 {
		return nil, false
	}
	cells := make([][2]int, 0, size)
	for k := 0; k < size; k++ {
		r, c := row, col+k
		if !horizontal {
			r, c = row+k, col
		}
		if !board.In(r, c) {
			return nil, false
		}
		cells = append(cells, [2]int{r, c})
	}
	for _, cell := range cells {
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				r, c := cell[0]+dr, cell[1]+dc
				if board.In(r, c) && board[r][c] == engine.CellOccupied {
					return nil, false
				}
			}
		}
	}
	return cells, true
}

func place(seat *Seat, cells [][2]int) {
	for _, c := range cells {
		seat.Board[c[0]][c[1]] = engine.CellOccupied
	}
	seat.Units = append(seat.Units, Unit{Cells: cells})
}

func outline(g engine.Grid, cells [][2]int) [][2]int {
	var out [][2]int
	for _, cell := range cells {
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				n := [2]int{cell[0] + dr, cell[1] + dc}
				if g.In(n[0], n[1]) && !slices.Contains(cells, n) && !slices.Contains(out, n) {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// autoPlace clears the board and drops every unit at random legal spots,
// starting over when it paints itself into a corner.
func autoPlace(seat *Seat, mode Mode, intn func(int) int) {
	for {
		seat.Board = engine.NewGrid(mode.Size)
		seat.Units = nil
		if tryPlaceAll(seat, mode, intn) {
			return
		}
	}
}

func tryPlaceAll(seat *Seat, mode Mode, intn func(int) int) bool {
	for _, size := range mode.Units {
		placed := false
		for attempt := 0; attempt < 200 && !placed; attempt++ {
			cells, ok := unitCells(seat.Board, intn(mode.Size), intn(mode.Size), size, intn(2) == 0)
			if ok {
				place(seat, cells)
				placed = true
			}
		}
		if !placed {
			return false
		}
	}
	return true
}
