package fusion

import (
	"time"

	"aeras-dispatch/internal/logger"
)

const intervalRingSize = 10

// DenialReason explains a failed privilege check.
type DenialReason string

const (
	DenialNone           DenialReason = ""
	DenialNoSignal       DenialReason = "no-signal"
	DenialWrongFrequency DenialReason = "wrong-frequency"
	DenialAmbientLight   DenialReason = "ambient-light"
)

// LightSensor returns one raw ambient-light reading in ADC counts.
type LightSensor interface {
	ReadRaw() (float64, error)
}

// Privilege verifies the pulsed optical token carried by eligible requesters.
// Raw light samples pass through a DC-blocking high-pass filter; rising edges
// of the filtered signal are timestamped and the mean pulse interval gives the
// carrier frequency. The check succeeds as soon as enough pulses land inside
// the frequency tolerance, and otherwise fails when the measurement window
// closes.
type Privilege struct {
	log    *logger.Logger
	sensor LightSensor

	window    time.Duration
	targetHz  float64
	tolerance float64
	minPulses int
	threshold float64
	alpha     float64

	running  bool
	done     bool
	verified bool
	reason   DenialReason
	freq     float64

	start      time.Time
	dcFiltered float64
	lastRaw    float64
	primed     bool
	aboveThr   bool
	lastEdge   time.Time
	pulseCount int
	intervals  [intervalRingSize]time.Duration
	intIdx     int
	intCount   int
	lastSample float64

	levelTap func(level bool, at time.Time)

	now func() time.Time
}

func NewPrivilege(sensor LightSensor, window time.Duration, targetHz, tolerance float64, minPulses int, threshold, alpha float64, log *logger.Logger) *Privilege {
	return &Privilege{
		log:       log,
		sensor:    sensor,
		window:    window,
		targetHz:  targetHz,
		tolerance: tolerance,
		minPulses: minPulses,
		threshold: threshold,
		alpha:     alpha,
		now:       time.Now,
	}
}

// SetLevelTap installs an observer of the raw on/off detector level, called
// once per sample. The identity decoder listens here; the tap never affects
// the frequency verdict.
func (v *Privilege) SetLevelTap(tap func(level bool, at time.Time)) {
	v.levelTap = tap
}

// Start opens a fresh measurement window.
func (v *Privilege) Start() {
	v.Reset()
	v.running = true
	v.start = v.now()
	v.log.Debugf("privilege check started, window=%s target=%.1fHz", v.window, v.targetHz)
}

// Update takes one sample and advances the check. Call once per control-loop
// tick while Running; it becomes a no-op once a verdict is reached.
func (v *Privilege) Update() {
	if !v.running || v.done {
		return
	}
	now := v.now()

	raw, err := v.sensor.ReadRaw()
	if err == nil {
		if v.levelTap != nil {
			v.levelTap(raw > v.threshold, now)
		}
		v.sample(raw, now)
	} else {
		v.log.Debugf("light sensor read: %v", err)
	}

	if v.pulseCount >= v.minPulses && v.intCount > 0 {
		v.freq = v.meanFrequency()
		if v.freq >= v.targetHz-v.tolerance && v.freq <= v.targetHz+v.tolerance {
			v.finish(true, DenialNone)
			return
		}
	}

	if now.Sub(v.start) >= v.window {
		switch {
		case v.pulseCount >= 2:
			v.freq = v.meanFrequency()
			v.finish(false, DenialWrongFrequency)
		case v.lastSample > 2*v.threshold:
			// steady bright input with no modulation, likely direct sunlight
			v.finish(false, DenialAmbientLight)
		default:
			v.finish(false, DenialNoSignal)
		}
	}
}

// sample applies the DC-blocking filter y[n] = a*(y[n-1] + x[n] - x[n-1]) and
// detects rising threshold crossings of the filtered signal.
func (v *Privilege) sample(raw float64, at time.Time) {
	v.lastSample = raw
	if !v.primed {
		v.lastRaw = raw
		v.primed = true
		return
	}
	v.dcFiltered = v.alpha * (v.dcFiltered + raw - v.lastRaw)
	v.lastRaw = raw

	above := absFloat(v.dcFiltered) > v.threshold
	if above && !v.aboveThr {
		if !v.lastEdge.IsZero() {
			v.intervals[v.intIdx] = at.Sub(v.lastEdge)
			v.intIdx = (v.intIdx + 1) % intervalRingSize
			if v.intCount < intervalRingSize {
				v.intCount++
			}
		}
		v.lastEdge = at
		v.pulseCount++
	}
	v.aboveThr = above
}

func (v *Privilege) meanFrequency() float64 {
	var sum time.Duration
	for i := 0; i < v.intCount; i++ {
		sum += v.intervals[i]
	}
	mean := sum / time.Duration(v.intCount)
	if mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(mean)
}

func (v *Privilege) finish(ok bool, reason DenialReason) {
	v.done = true
	v.running = false
	v.verified = ok
	v.reason = reason
	if ok {
		v.log.Infof("privilege verified at %.2fHz after %d pulses", v.freq, v.pulseCount)
	} else {
		v.log.Infof("privilege denied (%s): freq=%.2fHz pulses=%d", reason, v.freq, v.pulseCount)
	}
}

// Running reports whether a window is open and undecided.
func (v *Privilege) Running() bool { return v.running }

// Done reports whether the check has reached a verdict since Start.
func (v *Privilege) Done() bool { return v.done }

// Verified reports the verdict; only meaningful once Done.
func (v *Privilege) Verified() bool { return v.verified }

// Reason returns why the check failed, or DenialNone.
func (v *Privilege) Reason() DenialReason { return v.reason }

// DetectedFrequency returns the measured carrier in Hz, 0 if none.
func (v *Privilege) DetectedFrequency() float64 { return v.freq }

// Reset discards all measurement state and any verdict.
func (v *Privilege) Reset() {
	*v = Privilege{
		log:       v.log,
		sensor:    v.sensor,
		window:    v.window,
		targetHz:  v.targetHz,
		tolerance: v.tolerance,
		minPulses: v.minPulses,
		threshold: v.threshold,
		alpha:     v.alpha,
		levelTap:  v.levelTap,
		now:       v.now,
	}
}
