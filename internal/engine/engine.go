package engine

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

var ErrMalformedSnapshot = errors.New("malformed snapshot")
var ErrUnknownCell = errors.New("unknown cell state")

type Slot string

const (
	NoSlot Slot = ""
	SlotA  Slot = "A"
	SlotB  Slot = "B"
)

var Slots = [2]Slot{SlotA, SlotB}

func ParseSlot(s string) (Slot, bool) {
	switch Slot(s) {
	case SlotA, SlotB:
		return Slot(s), true
	default:
		return NoSlot, false
	}
}

func (s Slot) Other() Slot {
	switch s {
	case SlotA:
		return SlotB
	case SlotB:
		return SlotA
	default:
		return NoSlot
	}
}

// Index is the position of the slot in View.Players. It panics for NoSlot.
func (s Slot) Index() int {
	switch s {
	case SlotA:
		return 0
	case SlotB:
		return 1
	}
	panic(fmt.Sprintf("engine: no index for slot %q", string(s)))
}

type Phase string

const (
	PhaseMatchmaking Phase = "matchmaking"
	PhaseSetup       Phase = "setup"
	PhaseBattle      Phase = "battle"
	PhaseTerminal    Phase = "terminal"
)

var phaseOrder = []Phase{PhaseMatchmaking, PhaseSetup, PhaseBattle, PhaseTerminal}

// ParsePhase maps a wire phase onto the fixed order. Unrecognized values come
// back as matchmaking with ok=false so callers can still render something.
func ParsePhase(s string) (Phase, bool) {
	switch s {
	case "matchmaking", "lobby", "waiting":
		return PhaseMatchmaking, true
	case "setup":
		return PhaseSetup, true
	case "battle", "playing":
		return PhaseBattle, true
	case "terminal", "finished":
		return PhaseTerminal, true
	default:
		return PhaseMatchmaking, false
	}
}

func (p Phase) Rank() int {
	return slices.Index(phaseOrder, p)
}

func (p Phase) Before(q Phase) bool { return p.Rank() < q.Rank() }

func MaxPhase(a, b Phase) Phase {
	if a.Before(b) {
		return b
	}
	return a
}

type Cell uint8

const (
	CellEmpty Cell = iota
	CellOccupied
	CellHit
	CellMiss
	CellDestroyed
)

var cellNames = [...]string{"empty", "occupied", "hit", "miss", "destroyed"}

func (c Cell) String() string {
	if int(c) < len(cellNames) {
		return cellNames[c]
	}
	return fmt.Sprintf("cell(%d)", uint8(c))
}

func ParseCell(s string) (Cell, error) {
	if i := slices.Index(cellNames[:], s); i >= 0 {
		return Cell(i), nil
	}
	return CellEmpty, fmt.Errorf("%w: %q", ErrUnknownCell, s)
}

// Grid is a square matrix indexed [row][col].
type Grid [][]Cell

func NewGrid(size int) Grid {
	g := make(Grid, size)
	for r := range g {
		g[r] = make([]Cell, size)
	}
	return g
}

func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for r := range g {
		out[r] = slices.Clone(g[r])
	}
	return out
}

func (g Grid) In(row, col int) bool {
	return row >= 0 && row < len(g) && col >= 0 && col < len(g[row])
}

func (g Grid) Wire() [][]string {
	if g == nil {
		return nil
	}
	out := make([][]string, len(g))
	for r, row := range g {
		out[r] = make([]string, len(row))
		for c, cell := range row {
			out[r][c] = cell.String()
		}
	}
	return out
}

func GridFromWire(rows [][]string) (Grid, error) {
	if rows == nil {
		return nil, nil
	}
	g := make(Grid, len(rows))
	for r, row := range rows {
		if len(row) != len(rows) {
			return nil, fmt.Errorf("%w: grid row %d has %d cells, want %d", ErrMalformedSnapshot, r, len(row), len(rows))
		}
		g[r] = make([]Cell, len(row))
		for c, name := range row {
			cell, err := ParseCell(name)
			if err != nil {
				return nil, err
			}
			g[r][c] = cell
		}
	}
	return g, nil
}

type PlayerView struct {
	Slot           Slot
	AccountID      string
	DisplayName    string
	Ready          bool
	BattleReady    bool
	UnitsRemaining int
	Board          Grid // own layout
	Attacks        Grid // shots taken against the opponent
}

func (p PlayerView) Bound() bool { return p.AccountID != "" }

type LastAction struct {
	Slot   Slot
	Row    int
	Col    int
	Result string
}

// Identity is the viewer's slot plus the capability token that authorizes its actions.
type Identity struct {
	Slot  Slot
	Token string
}

func (i Identity) Established() bool { return i.Slot != NoSlot }

// Revision orders views: phase first, then the number of accepted changes.
type Revision struct {
	Phase Phase
	Seq   uint64
}

func (r Revision) Less(o Revision) bool {
	if r.Phase != o.Phase {
		return r.Phase.Before(o.Phase)
	}
	return r.Seq < o.Seq
}

type View struct {
	SessionID    string
	Phase        Phase
	Mode         string
	Size         int
	Units        []int
	Players      [2]PlayerView
	Local        Slot
	Turn         Slot
	UnitsToPlace []int
	LastAction   *LastAction
	Winner       Slot
	Surrendered  Slot
	Deleted      bool
	Revision     Revision
}

func (v View) Player(s Slot) PlayerView {
	if s == NoSlot {
		return PlayerView{}
	}
	return v.Players[s.Index()]
}

// Me is the local viewer's player, zero when no identity is established.
func (v View) Me() PlayerView { return v.Player(v.Local) }

func (v View) Opponent() PlayerView { return v.Player(v.Local.Other()) }

func (v View) Terminated() bool {
	return v.Deleted || v.Winner != NoSlot || v.Surrendered != NoSlot
}

func (v View) MyTurn() bool {
	return v.Phase == PhaseBattle && v.Local != NoSlot && v.Turn == v.Local
}

func (v View) Clone() View {
	out := v
	out.Units = slices.Clone(v.Units)
	out.UnitsToPlace = slices.Clone(v.UnitsToPlace)
	for i := range v.Players {
		out.Players[i].Board = v.Players[i].Board.Clone()
		out.Players[i].Attacks = v.Players[i].Attacks.Clone()
	}
	if v.LastAction != nil {
		la := *v.LastAction
		out.LastAction = &la
	}
	return out
}

// SameContent compares everything but the revision.
func (v View) SameContent(o View) bool {
	v.Revision, o.Revision = Revision{}, Revision{}
	return reflect.DeepEqual(v, o)
}
