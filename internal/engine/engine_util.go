package engine

func NewView(sessionID string) View {
	v := View{SessionID: sessionID, Phase: PhaseMatchmaking}
	for i, s := range Slots {
		v.Players[i].Slot = s
	}
	v.Revision = Revision{Phase: v.Phase}
	return v
}

// DerivePhase combines the reported phase with what the view's facts imply.
// A termination signal wins over everything else.
func DerivePhase(v View) Phase {
	if v.Terminated() {
		return PhaseTerminal
	}

	a, b := v.Players[0], v.Players[1]
	derived := PhaseMatchmaking
	if a.Bound() && b.Bound() && a.Ready && b.Ready {
		derived = PhaseSetup
		if a.BattleReady && b.BattleReady {
			derived = PhaseBattle
		}
	}

	reported := v.Phase
	if reported.Rank() < 0 {
		reported = PhaseMatchmaking
	}
	return MaxPhase(reported, derived)
}
