package hardware

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"aeras-dispatch/internal/logger"
)

const (
	trigPulseWidth = 10 * time.Microsecond
	echoTimeout    = 60 * time.Millisecond
	// round-trip microseconds per centimeter at the speed of sound
	usPerCm = 58.0
)

// Ultrasonic drives a trig/echo ranger. Each measurement sends a trigger
// pulse and times the echo line with kernel edge timestamps; a missing echo
// within the timeout reports ok=false.
type Ultrasonic struct {
	log   *logger.Logger
	chip  *gpiocdev.Chip
	trig  *gpiocdev.Line
	echo  *gpiocdev.Line
	edges chan gpiocdev.LineEvent
}

func NewUltrasonic(chipName string, trigPin, echoPin int, log *logger.Logger) (*Ultrasonic, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", chipName, err)
	}
	u := &Ultrasonic{
		log:   log,
		chip:  chip,
		edges: make(chan gpiocdev.LineEvent, 8),
	}

	u.trig, err = chip.RequestLine(trigPin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("aeras-dispatch"))
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("requesting trig line %d: %w", trigPin, err)
	}

	u.echo, err = chip.RequestLine(echoPin,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer("aeras-dispatch"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			select {
			case u.edges <- evt:
			default:
			}
		}))
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("requesting echo line %d: %w", echoPin, err)
	}
	return u, nil
}

// MeasureDistanceCm performs one ranging cycle. It blocks for at most the
// echo timeout, well under the sensor sample interval.
func (u *Ultrasonic) MeasureDistanceCm() (float64, bool) {
	// flush edges from any previous cycle
	for {
		select {
		case <-u.edges:
			continue
		default:
		}
		break
	}

	if err := u.trig.SetValue(1); err != nil {
		u.log.Errorf("trig high: %v", err)
		return 0, false
	}
	time.Sleep(trigPulseWidth)
	if err := u.trig.SetValue(0); err != nil {
		u.log.Errorf("trig low: %v", err)
		return 0, false
	}

	var rise time.Duration
	deadline := time.After(echoTimeout)
	for {
		select {
		case evt := <-u.edges:
			if evt.Type == gpiocdev.LineEventRisingEdge {
				rise = evt.Timestamp
				continue
			}
			if rise == 0 {
				continue // falling edge without a rise, stale
			}
			flight := evt.Timestamp - rise
			cm := float64(flight.Microseconds()) / usPerCm
			return cm, true
		case <-deadline:
			u.log.Debugf("echo timeout")
			return 0, false
		}
	}
}

func (u *Ultrasonic) Close() {
	if u.trig != nil {
		_ = u.trig.Close()
	}
	if u.echo != nil {
		_ = u.echo.Close()
	}
	if u.chip != nil {
		_ = u.chip.Close()
	}
}
