package phase

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
)

var ErrCommandNotAllowed = errors.New("command not allowed in this phase")

type Command string

const (
	CmdReady      Command = "ready"
	CmdPlaceUnit  Command = "place-unit"
	CmdRemoveUnit Command = "remove-unit"
	CmdAutoPlace  Command = "auto-place"
	CmdAttack     Command = "attack"
	CmdSurrender  Command = "surrender"
	CmdLeave      Command = "leave"
)

var commands = map[engine.Phase][]Command{
	engine.PhaseMatchmaking: {CmdReady, CmdLeave},
	engine.PhaseSetup:       {CmdPlaceUnit, CmdRemoveUnit, CmdAutoPlace, CmdReady, CmdSurrender, CmdLeave},
	engine.PhaseBattle:      {CmdAttack, CmdSurrender, CmdLeave},
	engine.PhaseTerminal:    {CmdLeave},
}

type Transition struct {
	SessionID string
	From      engine.Phase
	To        engine.Phase
}

// Machine follows the reconciled view and only ever moves forward, except
// when the view switches to another session or back to none.
type Machine struct {
	log *zap.Logger

	mu        sync.RWMutex
	sessionID string
	current   engine.Phase
	listeners []func(Transition)
}

func NewMachine(log *zap.Logger) *Machine {
	return &Machine{log: logging.OrNop(log).Named("phase"), current: engine.PhaseMatchmaking}
}

// OnTransition registers fn; it runs synchronously for each phase change.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Observe implements reconcile.Observer.
func (m *Machine) Observe(v engine.View) {
	m.mu.Lock()
	from := m.current
	next := engine.DerivePhase(v)

	switch {
	case v.SessionID != m.sessionID:
		m.sessionID = v.SessionID
	case next.Before(from):
		m.log.Debug("ignoring backward phase", zap.String("current", string(from)), zap.String("derived", string(next)))
		next = from
	}
	m.current = next
	listeners := slices.Clone(m.listeners)
	sessionID := m.sessionID
	m.mu.Unlock()

	if next == from {
		return
	}
	m.log.Info("phase changed", zap.String("session", sessionID), zap.String("from", string(from)), zap.String("to", string(next)))
	for _, fn := range listeners {
		fn(Transition{SessionID: sessionID, From: from, To: next})
	}
}

func (m *Machine) Phase() engine.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Commands lists what the viewer may do right now.
func (m *Machine) Commands() []Command {
	return slices.Clone(commands[m.Phase()])
}

func (m *Machine) Allows(cmd Command) bool {
	return slices.Contains(commands[m.Phase()], cmd)
}

func (m *Machine) Gate(cmd Command) error {
	p := m.Phase()
	if !slices.Contains(commands[p], cmd) {
		return fmt.Errorf("%w: %s during %s", ErrCommandNotAllowed, cmd, p)
	}
	return nil
}
