package hardware

import "time"

type PressKind int

const (
	PressShort PressKind = iota
	PressHold
)

// PressAction is an accepted button gesture.
type PressAction struct {
	Name string
	Kind PressKind
}

type buttonState struct {
	down         bool
	downAt       time.Time
	holdFired    bool
	lastAccepted time.Time
}

// PressFilter turns raw debounced edges into gestures. A short press fires on
// release; holding past the hold timeout fires once while the button is still
// down, and swallows the release. Accepted short presses arm a lockout so a
// nervous double-tap acts once.
type PressFilter struct {
	lockout     time.Duration
	holdTimeout time.Duration
	buttons     map[string]*buttonState
}

func NewPressFilter(lockout, holdTimeout time.Duration) *PressFilter {
	return &PressFilter{
		lockout:     lockout,
		holdTimeout: holdTimeout,
		buttons:     make(map[string]*buttonState),
	}
}

// Feed processes one edge event and returns the gesture it completes, if any.
func (f *PressFilter) Feed(ev ButtonEvent) *PressAction {
	st := f.buttons[ev.Name]
	if st == nil {
		st = &buttonState{}
		f.buttons[ev.Name] = st
	}

	if ev.Pressed {
		st.down = true
		st.downAt = ev.At
		st.holdFired = false
		return nil
	}

	wasDown := st.down
	st.down = false
	if !wasDown || st.holdFired {
		return nil
	}
	if ev.At.Sub(st.downAt) >= f.holdTimeout {
		// release arrived before Tick noticed the hold
		st.holdFired = true
		return &PressAction{Name: ev.Name, Kind: PressHold}
	}
	if !st.lastAccepted.IsZero() && ev.At.Sub(st.lastAccepted) < f.lockout {
		return nil
	}
	st.lastAccepted = ev.At
	return &PressAction{Name: ev.Name, Kind: PressShort}
}

// Tick fires hold gestures for buttons still held past the hold timeout.
func (f *PressFilter) Tick(now time.Time) []PressAction {
	var out []PressAction
	for name, st := range f.buttons {
		if st.down && !st.holdFired && now.Sub(st.downAt) >= f.holdTimeout {
			st.holdFired = true
			out = append(out, PressAction{Name: name, Kind: PressHold})
		}
	}
	return out
}
