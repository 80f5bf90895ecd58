package types

// Snapshot is the session state as the backend describes it to one viewer.
// The same shape travels in REST responses and in push "snapshot" events.
//
//	phase:        "matchmaking" | "setup" | "battle" | "terminal"
//	viewer:       recipient slot ("A" | "B"), empty for untagged broadcasts
//	players:      only the slots the snapshot describes; board is omitted for
//	              the slot the viewer must not see
//	turn:         slot expected to act next (battle only)
//	unitsToPlace: sizes the viewer still has to place (setup only)
type Snapshot struct {
	SessionID    string      `json:"sessionId"`
	Phase        string      `json:"phase"`
	Viewer       string      `json:"viewer,omitempty"`
	Mode         string      `json:"mode,omitempty"`
	Config       *GameConfig `json:"config,omitempty"`
	Turn         string      `json:"turn,omitempty"`
	Players      []Player    `json:"players,omitempty"`
	UnitsToPlace []int       `json:"unitsToPlace,omitempty"`
	LastAction   *LastAction `json:"lastAction,omitempty"`
	Winner       string      `json:"winner,omitempty"`
	Surrendered  string      `json:"surrendered,omitempty"`
	Deleted      bool        `json:"deleted,omitempty"`
}

type GameConfig struct {
	Size  int   `json:"size"`
	Units []int `json:"units"`
}

// Cells are "empty" | "occupied" | "hit" | "miss" | "destroyed".
type Player struct {
	Slot           string     `json:"slot"`
	AccountID      string     `json:"accountId,omitempty"`
	DisplayName    string     `json:"displayName,omitempty"`
	Ready          bool       `json:"ready"`
	BattleReady    bool       `json:"battleReady"`
	UnitsRemaining int        `json:"unitsRemaining"`
	Board          [][]string `json:"board,omitempty"`
	Attacks        [][]string `json:"attacks,omitempty"`
}

type LastAction struct {
	Slot   string `json:"slot"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Result string `json:"result"` // "hit" | "miss" | "destroyed"
}
