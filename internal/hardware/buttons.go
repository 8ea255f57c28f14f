package hardware

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"aeras-dispatch/internal/logger"
)

// ButtonEvent is one debounced edge from a console or kiosk button.
type ButtonEvent struct {
	Name    string
	Pressed bool
	At      time.Time
}

const buttonEventBuffer = 32

// Buttons owns the GPIO lines behind the unit's physical buttons. Lines are
// requested with both-edge events and kernel debouncing; events queue into a
// buffered inbox that the control loop drains once per tick.
type Buttons struct {
	log    *logger.Logger
	chip   *gpiocdev.Chip
	lines  map[string]*gpiocdev.Line
	events chan ButtonEvent
}

// NewButtons requests every line in mapping on the named chip. Buttons are
// wired active-low against the internal pull-up, so a falling edge is a press.
func NewButtons(chipName string, mapping map[string]int, debounce time.Duration, log *logger.Logger) (*Buttons, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", chipName, err)
	}

	b := &Buttons{
		log:    log,
		chip:   chip,
		lines:  make(map[string]*gpiocdev.Line),
		events: make(chan ButtonEvent, buttonEventBuffer),
	}

	for name, offset := range mapping {
		name := name
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithDebounce(debounce),
			gpiocdev.WithConsumer("aeras-dispatch"),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				b.handleEdge(name, evt)
			}))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("requesting line %d for %s: %w", offset, name, err)
		}
		b.lines[name] = line
		log.Debugf("button %s on line %d", name, offset)
	}
	return b, nil
}

func (b *Buttons) handleEdge(name string, evt gpiocdev.LineEvent) {
	pressed := evt.Type == gpiocdev.LineEventFallingEdge
	select {
	case b.events <- ButtonEvent{Name: name, Pressed: pressed, At: time.Now()}:
	default:
		b.log.Warnf("button inbox full, dropping %s edge", name)
	}
}

// Poll drains all pending button events without blocking.
func (b *Buttons) Poll() []ButtonEvent {
	var out []ButtonEvent
	for {
		select {
		case ev := <-b.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (b *Buttons) Close() {
	for name, line := range b.lines {
		_ = line.Close()
		delete(b.lines, name)
	}
	if b.chip != nil {
		_ = b.chip.Close()
	}
}
