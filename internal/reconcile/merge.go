package reconcile

import (
	"slices"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
)

// merge folds s into v. Only slots listed in the snapshot are touched. When
// foreign is set the snapshot was cut for the other slot, so only facts both
// players share are taken: phase, slot binding, readiness and termination.
func merge(v engine.View, s engine.Snapshot, foreign bool) engine.View {
	h := s.Head()

	if h.Mode != "" {
		v.Mode = h.Mode
	}
	if h.Size > 0 {
		v.Size = h.Size
		v.Units = slices.Clone(h.Units)
	}

	for _, p := range h.Players {
		pv := &v.Players[p.Slot.Index()]
		pv.Slot = p.Slot
		pv.AccountID = p.AccountID
		pv.DisplayName = p.DisplayName
		pv.Ready = p.Ready
		pv.BattleReady = p.BattleReady
		if foreign {
			continue
		}
		pv.UnitsRemaining = p.UnitsRemaining
		if p.Board != nil {
			pv.Board = p.Board.Clone()
		}
		if p.Attacks != nil {
			pv.Attacks = p.Attacks.Clone()
		}
	}

	v.Phase = s.Phase()

	switch t := s.(type) {
	case engine.SetupSnapshot:
		if !foreign {
			v.UnitsToPlace = slices.Clone(t.UnitsToPlace)
		}

	case engine.BattleSnapshot:
		v.UnitsToPlace = nil
		if !foreign {
			v.Turn = t.Turn
			v.LastAction = cloneAction(t.LastAction, v.LastAction)
		}

	case engine.TerminalSnapshot:
		v.UnitsToPlace = nil
		v.Turn = engine.NoSlot
		if t.Winner != engine.NoSlot {
			v.Winner = t.Winner
		}
		if t.Surrendered != engine.NoSlot {
			v.Surrendered = t.Surrendered
		}
		v.Deleted = v.Deleted || t.Deleted
		if !foreign {
			v.LastAction = cloneAction(t.LastAction, v.LastAction)
		}
	}
	return v
}

func cloneAction(in, prev *engine.LastAction) *engine.LastAction {
	if in == nil {
		return prev
	}
	la := *in
	return &la
}
