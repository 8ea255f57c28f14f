package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"aeras-dispatch/internal/logger"
)

// cueStep is one element of an indicator pattern.
type cueStep struct {
	led    string
	ledOn  bool
	beepHz int
	dur    time.Duration
}

// cues are the named feedback patterns the lifecycle plays. Steps run in
// order; LED state persists past the cue, the buzzer stops at the end.
var cues = map[string][]cueStep{
	"offer": {
		{led: "offer", ledOn: true, beepHz: 2000, dur: 150 * time.Millisecond},
		{beepHz: 0, dur: 100 * time.Millisecond},
		{beepHz: 2000, dur: 150 * time.Millisecond},
	},
	"accepted": {
		{led: "offer", ledOn: false, dur: 0},
		{led: "active", ledOn: true, beepHz: 1500, dur: 300 * time.Millisecond},
	},
	"completed": {
		{led: "active", ledOn: false, beepHz: 1500, dur: 100 * time.Millisecond},
		{beepHz: 0, dur: 80 * time.Millisecond},
		{beepHz: 1800, dur: 100 * time.Millisecond},
		{beepHz: 0, dur: 80 * time.Millisecond},
		{beepHz: 2200, dur: 150 * time.Millisecond},
	},
	"error": {
		{led: "error", ledOn: true, beepHz: 400, dur: 600 * time.Millisecond},
	},
	"clear": {
		{led: "offer", ledOn: false, dur: 0},
		{led: "active", ledOn: false, dur: 0},
		{led: "error", ledOn: false, dur: 0},
	},
}

// Indicators drives the unit's LEDs and buzzer. Cues play asynchronously;
// starting a new cue preempts the running one.
type Indicators struct {
	log  *logger.Logger
	chip *gpiocdev.Chip
	leds map[string]*gpiocdev.Line
	buzz *pwmBuzzer

	mu   sync.Mutex
	stop chan struct{}
}

func NewIndicators(chipName string, pins map[string]int, pwmChipPath string, pwmChannel int, log *logger.Logger) (*Indicators, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", chipName, err)
	}
	ind := &Indicators{
		log:  log,
		chip: chip,
		leds: make(map[string]*gpiocdev.Line),
	}
	for name, pin := range pins {
		line, err := chip.RequestLine(pin,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer("aeras-dispatch"))
		if err != nil {
			ind.Close()
			return nil, fmt.Errorf("requesting LED line %d for %s: %w", pin, name, err)
		}
		ind.leds[name] = line
	}

	ind.buzz, err = newPwmBuzzer(pwmChipPath, pwmChannel)
	if err != nil {
		// a dead buzzer degrades feedback but not operation
		log.Warnf("buzzer unavailable: %v", err)
		ind.buzz = nil
	}
	return ind, nil
}

// Set switches a single LED.
func (ind *Indicators) Set(name string, on bool) error {
	line, ok := ind.leds[name]
	if !ok {
		return fmt.Errorf("unknown indicator %q", name)
	}
	v := 0
	if on {
		v = 1
	}
	return line.SetValue(v)
}

// PlayCue starts the named pattern, preempting any cue still playing.
func (ind *Indicators) PlayCue(name string) error {
	steps, ok := cues[name]
	if !ok {
		return fmt.Errorf("unknown cue %q", name)
	}

	ind.mu.Lock()
	if ind.stop != nil {
		close(ind.stop)
	}
	stop := make(chan struct{})
	ind.stop = stop
	ind.mu.Unlock()

	go ind.run(name, steps, stop)
	return nil
}

func (ind *Indicators) run(name string, steps []cueStep, stop chan struct{}) {
	defer ind.silence()
	for _, s := range steps {
		if s.led != "" {
			if err := ind.Set(s.led, s.ledOn); err != nil {
				ind.log.Warnf("cue %s: %v", name, err)
			}
		}
		if ind.buzz != nil {
			if err := ind.buzz.tone(s.beepHz); err != nil {
				ind.log.Debugf("cue %s buzzer: %v", name, err)
			}
		}
		if s.dur > 0 {
			select {
			case <-stop:
				return
			case <-time.After(s.dur):
			}
		}
	}
}

func (ind *Indicators) silence() {
	if ind.buzz != nil {
		_ = ind.buzz.tone(0)
	}
}

func (ind *Indicators) Close() {
	ind.mu.Lock()
	if ind.stop != nil {
		close(ind.stop)
		ind.stop = nil
	}
	ind.mu.Unlock()

	ind.silence()
	for name, line := range ind.leds {
		_ = line.Close()
		delete(ind.leds, name)
	}
	if ind.chip != nil {
		_ = ind.chip.Close()
	}
}

// pwmBuzzer drives a piezo through the sysfs PWM interface.
type pwmBuzzer struct {
	dir string
}

func newPwmBuzzer(chipPath string, channel int) (*pwmBuzzer, error) {
	dir := filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(chipPath, "export"), []byte(strconv.Itoa(channel)), 0o644); err != nil {
			return nil, fmt.Errorf("exporting pwm%d: %w", channel, err)
		}
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("pwm channel %d not available: %w", channel, err)
	}
	return &pwmBuzzer{dir: dir}, nil
}

// tone sets the buzzer frequency at 50% duty, or silences it for hz <= 0.
func (b *pwmBuzzer) tone(hz int) error {
	if hz <= 0 {
		return b.write("enable", "0")
	}
	period := int(time.Second.Nanoseconds()) / hz
	if err := b.write("period", strconv.Itoa(period)); err != nil {
		return err
	}
	if err := b.write("duty_cycle", strconv.Itoa(period/2)); err != nil {
		return err
	}
	return b.write("enable", "1")
}

func (b *pwmBuzzer) write(file, value string) error {
	return os.WriteFile(filepath.Join(b.dir, file), []byte(value), 0o644)
}
