package devbackend

import (
	"slices"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

// SnapshotFor renders the session as viewer sees it. The opponent's layout is
// never included; a spectator (NoSlot) sees no layouts at all.
func SnapshotFor(sessionID string, s State, viewer engine.Slot) types.Snapshot {
	phase := DerivePhase(s)
	out := types.Snapshot{
		SessionID:   sessionID,
		Phase:       string(phase),
		Viewer:      string(viewer),
		Mode:        s.Mode.Name,
		Config:      &types.GameConfig{Size: s.Mode.Size, Units: slices.Clone(s.Mode.Units)},
		Turn:        string(s.Turn),
		Winner:      string(s.Winner),
		Surrendered: string(s.Surrendered),
		Deleted:     s.Deleted,
	}

	for i, slot := range engine.Slots {
		seat := s.Seats[i]
		p := types.Player{
			Slot:           string(slot),
			AccountID:      seat.AccountID,
			DisplayName:    seat.DisplayName,
			Ready:          seat.Ready,
			BattleReady:    seat.BattleReady,
			UnitsRemaining: seat.remaining(),
			Attacks:        seat.Attacks.Wire(),
		}
		if slot == viewer {
			p.Board = seat.Board.Wire()
		}
		out.Players = append(out.Players, p)
	}

	if viewer != engine.NoSlot && phase == engine.PhaseSetup {
		out.UnitsToPlace = UnitsToPlace(s, viewer)
	}
	if s.LastAction != nil {
		la := *s.LastAction
		out.LastAction = &types.LastAction{Slot: string(la.Slot), Row: la.Row, Col: la.Col, Result: la.Result}
	}
	return out
}
