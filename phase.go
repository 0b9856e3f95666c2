package blescard

import (
	"context"

	"github.com/looplab/fsm"
)

// Phase is the state of a Session.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseDiscovering      Phase = "discovering"
	PhaseReadingSlotCount Phase = "reading_slot_count"
	PhaseReadingSlotNames Phase = "reading_slot_names"
	PhaseAuthenticating   Phase = "authenticating"
	PhasePoweringSlots    Phase = "powering_slots"
	PhaseReady            Phase = "ready"
	PhaseDisconnecting    Phase = "disconnecting"
	PhaseDisconnected     Phase = "disconnected"
	PhaseFailed           Phase = "failed"
)

const (
	evDiscover     = "discover"
	evCount        = "count"
	evName         = "name"
	evAuthenticate = "authenticate"
	evPower        = "power"
	evReady        = "ready"
	evDisconnect   = "disconnect"
	evClosed       = "closed"
	evFail         = "fail"
)

var livePhases = []string{
	string(PhaseIdle),
	string(PhaseDiscovering),
	string(PhaseReadingSlotCount),
	string(PhaseReadingSlotNames),
	string(PhaseAuthenticating),
	string(PhasePoweringSlots),
	string(PhaseReady),
}

type phaseMachine struct {
	f *fsm.FSM
}

func newPhaseMachine(log Logger) *phaseMachine {
	f := fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: evDiscover, Src: []string{string(PhaseIdle)}, Dst: string(PhaseDiscovering)},
			{Name: evCount, Src: []string{string(PhaseDiscovering)}, Dst: string(PhaseReadingSlotCount)},
			{Name: evName, Src: []string{string(PhaseReadingSlotCount)}, Dst: string(PhaseReadingSlotNames)},
			{Name: evAuthenticate, Src: []string{string(PhaseReadingSlotNames)}, Dst: string(PhaseAuthenticating)},
			{Name: evPower, Src: []string{string(PhaseReadingSlotNames), string(PhaseAuthenticating)}, Dst: string(PhasePoweringSlots)},
			{Name: evReady, Src: []string{string(PhasePoweringSlots)}, Dst: string(PhaseReady)},
			{Name: evDisconnect, Src: livePhases, Dst: string(PhaseDisconnecting)},
			{Name: evClosed, Src: append([]string{string(PhaseDisconnecting)}, livePhases...), Dst: string(PhaseDisconnected)},
			{Name: evFail, Src: append([]string{string(PhaseDisconnecting)}, livePhases...), Dst: string(PhaseFailed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("phase %s -> %s (%s)", e.Src, e.Dst, e.Event)
			},
		},
	)
	return &phaseMachine{f: f}
}

func (p *phaseMachine) Current() Phase {
	return Phase(p.f.Current())
}

func (p *phaseMachine) Is(ph Phase) bool {
	return p.f.Is(string(ph))
}

// fire moves to the next phase. Illegal transitions are reported as errors.
func (p *phaseMachine) fire(event string) error {
	return p.f.Event(context.Background(), event)
}

// terminal reports whether the session is over.
func (p *phaseMachine) terminal() bool {
	return p.Is(PhaseDisconnected) || p.Is(PhaseFailed)
}

// beforeReady reports whether the session is still setting up.
func (p *phaseMachine) beforeReady() bool {
	switch p.Current() {
	case PhaseIdle, PhaseDiscovering, PhaseReadingSlotCount, PhaseReadingSlotNames,
		PhaseAuthenticating, PhasePoweringSlots:
		return true
	}
	return false
}
