package fusion

import (
	"sort"
	"time"

	"aeras-dispatch/internal/logger"
)

const presenceFilterSize = 5

// RangeSensor produces one distance measurement per call. ok is false when
// the echo timed out; such cycles contribute nothing to the filter.
type RangeSensor interface {
	MeasureDistanceCm() (float64, bool)
}

// Presence detects a person standing in front of the unit from ultrasonic
// range samples. Raw readings pass through a median-of-N filter, and presence
// is confirmed only after the filtered distance stays inside the zone, within
// a small tolerance of the first in-zone reading, for a full dwell period.
type Presence struct {
	log    *logger.Logger
	sensor RangeSensor

	buf    [presenceFilterSize]float64
	idx    int
	filled bool

	minRangeCm  float64
	maxRangeCm  float64
	toleranceCm float64
	dwell       time.Duration
	interval    time.Duration

	lastSample  time.Time
	refDistance float64
	inZoneSince time.Time
	tracking    bool
	confirmed   bool

	now func() time.Time
}

func NewPresence(sensor RangeSensor, minRangeCm, maxRangeCm, toleranceCm float64, dwell, interval time.Duration, log *logger.Logger) *Presence {
	return &Presence{
		log:         log,
		sensor:      sensor,
		minRangeCm:  minRangeCm,
		maxRangeCm:  maxRangeCm,
		toleranceCm: toleranceCm,
		dwell:       dwell,
		interval:    interval,
		now:         time.Now,
	}
}

// Update runs one detection cycle. It self-throttles to the sample interval,
// so it is safe to call on every control-loop tick.
func (p *Presence) Update() {
	now := p.now()
	if !p.lastSample.IsZero() && now.Sub(p.lastSample) < p.interval {
		return
	}
	p.lastSample = now

	d, ok := p.sensor.MeasureDistanceCm()
	if !ok {
		return
	}
	p.buf[p.idx] = d
	p.idx = (p.idx + 1) % presenceFilterSize
	if p.idx == 0 {
		p.filled = true
	}
	if !p.filled {
		return
	}

	med := p.median()
	inZone := med >= p.minRangeCm && med <= p.maxRangeCm

	switch {
	case !inZone:
		if p.tracking {
			p.log.Debugf("presence lost at %.1fcm", med)
		}
		p.tracking = false
		p.confirmed = false
	case !p.tracking:
		p.tracking = true
		p.refDistance = med
		p.inZoneSince = now
	case absFloat(med-p.refDistance) > p.toleranceCm:
		// moved within the zone, restart the dwell from the new position
		p.refDistance = med
		p.inZoneSince = now
		p.confirmed = false
	case !p.confirmed && now.Sub(p.inZoneSince) >= p.dwell:
		p.confirmed = true
		p.log.Infof("presence confirmed at %.1fcm", med)
	}
}

// Confirmed reports whether a stable presence has completed the dwell period.
func (p *Presence) Confirmed() bool {
	return p.confirmed
}

// InZone reports whether the filtered distance currently falls inside the
// detection zone, regardless of dwell.
func (p *Presence) InZone() bool {
	return p.tracking
}

// FilteredDistance returns the current median distance, or -1 until the
// filter window has filled.
func (p *Presence) FilteredDistance() float64 {
	if !p.filled {
		return -1
	}
	return p.median()
}

// Reset clears the filter and all tracking state.
func (p *Presence) Reset() {
	p.idx = 0
	p.filled = false
	p.tracking = false
	p.confirmed = false
}

func (p *Presence) median() float64 {
	var tmp [presenceFilterSize]float64
	copy(tmp[:], p.buf[:])
	sort.Float64s(tmp[:])
	return tmp[presenceFilterSize/2]
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
