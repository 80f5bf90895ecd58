package engine

import (
	"fmt"
	"slices"

	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

// Snapshot is one inbound description of session state. The concrete type
// says which phase it describes and therefore which fields are authoritative.
type Snapshot interface {
	Head() Header
	Phase() Phase
	isSnapshot()
}

// Header carries the fields every phase shares.
type Header struct {
	SessionID string
	Viewer    Slot
	Mode      string
	Size      int
	Units     []int
	Players   []PlayerPatch

	// Unrecognized holds the raw phase when the backend sent one we do not know.
	Unrecognized string
}

func (h Header) Head() Header { return h }

// PlayerPatch describes one slot. A nil grid means the sender did not include it.
type PlayerPatch struct {
	Slot           Slot
	AccountID      string
	DisplayName    string
	Ready          bool
	BattleReady    bool
	UnitsRemaining int
	Board          Grid
	Attacks        Grid
}

type MatchmakingSnapshot struct {
	Header
}

type SetupSnapshot struct {
	Header
	UnitsToPlace []int
}

type BattleSnapshot struct {
	Header
	Turn       Slot
	LastAction *LastAction
}

type TerminalSnapshot struct {
	Header
	Winner      Slot
	Surrendered Slot
	Deleted     bool
	LastAction  *LastAction
}

func (MatchmakingSnapshot) Phase() Phase { return PhaseMatchmaking }
func (SetupSnapshot) Phase() Phase       { return PhaseSetup }
func (BattleSnapshot) Phase() Phase      { return PhaseBattle }
func (TerminalSnapshot) Phase() Phase    { return PhaseTerminal }

func (MatchmakingSnapshot) isSnapshot() {}
func (SetupSnapshot) isSnapshot()       {}
func (BattleSnapshot) isSnapshot()      {}
func (TerminalSnapshot) isSnapshot()    {}

// Decode turns a wire snapshot into its phase variant. Any termination fact
// (winner, surrender, deletion) makes it terminal whatever phase was reported.
func Decode(w types.Snapshot) (Snapshot, error) {
	if w.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrMalformedSnapshot)
	}

	h := Header{SessionID: w.SessionID, Mode: w.Mode}
	if w.Viewer != "" {
		s, ok := ParseSlot(w.Viewer)
		if !ok {
			return nil, fmt.Errorf("%w: viewer %q", ErrMalformedSnapshot, w.Viewer)
		}
		h.Viewer = s
	}
	if w.Config != nil {
		h.Size = w.Config.Size
		h.Units = slices.Clone(w.Config.Units)
	}
	for _, p := range w.Players {
		patch, err := decodePlayer(p)
		if err != nil {
			return nil, err
		}
		h.Players = append(h.Players, patch)
	}

	winner, err := optionalSlot(w.Winner)
	if err != nil {
		return nil, err
	}
	surrendered, err := optionalSlot(w.Surrendered)
	if err != nil {
		return nil, err
	}
	last, err := decodeLastAction(w.LastAction)
	if err != nil {
		return nil, err
	}

	if w.Deleted || winner != NoSlot || surrendered != NoSlot {
		return TerminalSnapshot{Header: h, Winner: winner, Surrendered: surrendered, Deleted: w.Deleted, LastAction: last}, nil
	}

	phase, ok := ParsePhase(w.Phase)
	if !ok {
		h.Unrecognized = w.Phase
	}
	switch phase {
	case PhaseSetup:
		return SetupSnapshot{Header: h, UnitsToPlace: slices.Clone(w.UnitsToPlace)}, nil
	case PhaseBattle:
		turn, err := optionalSlot(w.Turn)
		if err != nil {
			return nil, err
		}
		return BattleSnapshot{Header: h, Turn: turn, LastAction: last}, nil
	case PhaseTerminal:
		return TerminalSnapshot{Header: h, LastAction: last}, nil
	default:
		return MatchmakingSnapshot{Header: h}, nil
	}
}

func decodePlayer(p types.Player) (PlayerPatch, error) {
	slot, ok := ParseSlot(p.Slot)
	if !ok {
		return PlayerPatch{}, fmt.Errorf("%w: player slot %q", ErrMalformedSnapshot, p.Slot)
	}
	board, err := GridFromWire(p.Board)
	if err != nil {
		return PlayerPatch{}, err
	}
	attacks, err := GridFromWire(p.Attacks)
	if err != nil {
		return PlayerPatch{}, err
	}
	return PlayerPatch{
		Slot:           slot,
		AccountID:      p.AccountID,
		DisplayName:    p.DisplayName,
		Ready:          p.Ready,
		BattleReady:    p.BattleReady,
		UnitsRemaining: p.UnitsRemaining,
		Board:          board,
		Attacks:        attacks,
	}, nil
}

func decodeLastAction(la *types.LastAction) (*LastAction, error) {
	if la == nil {
		return nil, nil
	}
	slot, ok := ParseSlot(la.Slot)
	if !ok {
		return nil, fmt.Errorf("%w: last action slot %q", ErrMalformedSnapshot, la.Slot)
	}
	return &LastAction{Slot: slot, Row: la.Row, Col: la.Col, Result: la.Result}, nil
}

func optionalSlot(s string) (Slot, error) {
	if s == "" {
		return NoSlot, nil
	}
	slot, ok := ParseSlot(s)
	if !ok {
		return NoSlot, fmt.Errorf("%w: slot %q", ErrMalformedSnapshot, s)
	}
	return slot, nil
}
