package fusion

import "time"

// IdentityDecoder recovers the 4-bit holder identity the privilege token can
// transmit on demand. A frame is a long start pulse (two bit periods on), a
// one-period gap, four data bits most-significant first (on for 1, off for 0,
// each followed by a half-period gap), then a long stop pulse. Bits are read
// by checking which slot centers a recorded on-segment covers.
type IdentityDecoder struct {
	bit time.Duration

	started    bool
	lastLevel  bool
	lastChange time.Time

	inFrame    bool
	frameStart time.Time // falling edge of the start pulse
	segs       []highSegment

	id    int
	hasID bool
}

type highSegment struct {
	start time.Time
	dur   time.Duration
}

func NewIdentityDecoder(bitPeriod time.Duration) *IdentityDecoder {
	return &IdentityDecoder{bit: bitPeriod, segs: make([]highSegment, 0, 4)}
}

// Feed reports the detector level at a point in time. Only level changes
// matter; repeated samples at the same level are ignored.
func (d *IdentityDecoder) Feed(level bool, at time.Time) {
	if !d.started {
		d.started = true
		d.lastLevel = level
		d.lastChange = at
		return
	}
	if level == d.lastLevel {
		return
	}
	segLevel := d.lastLevel
	segStart := d.lastChange
	segDur := at.Sub(d.lastChange)
	d.lastLevel = level
	d.lastChange = at

	if d.inFrame && at.Sub(d.frameStart) > 10*d.bit {
		// frame never closed, drop it
		d.inFrame = false
		d.segs = d.segs[:0]
	}

	if !segLevel {
		return
	}

	if segDur >= 3*d.bit/2 {
		if d.inFrame {
			d.decode()
			d.inFrame = false
		} else {
			d.inFrame = true
			d.frameStart = at
			d.segs = d.segs[:0]
		}
		return
	}
	if d.inFrame {
		d.segs = append(d.segs, highSegment{start: segStart, dur: segDur})
	}
}

// decode samples the four bit-slot centers against the recorded on-segments.
// Slot k starts one bit period after the start pulse plus k*1.5 periods.
func (d *IdentityDecoder) decode() {
	id := 0
	for k := 0; k < 4; k++ {
		center := d.frameStart.Add(d.bit + time.Duration(k)*3*d.bit/2 + d.bit/2)
		id <<= 1
		for _, s := range d.segs {
			if !center.Before(s.start) && !center.After(s.start.Add(s.dur)) {
				id |= 1
				break
			}
		}
	}
	d.id = id
	d.hasID = true
}

// DecodedID returns the identity from the last complete frame.
func (d *IdentityDecoder) DecodedID() (int, bool) {
	return d.id, d.hasID
}

// Reset forgets any partial frame and the last decoded identity.
func (d *IdentityDecoder) Reset() {
	d.started = false
	d.inFrame = false
	d.segs = d.segs[:0]
	d.hasID = false
	d.id = 0
}
