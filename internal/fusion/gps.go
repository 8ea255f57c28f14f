package fusion

import (
	"math"
	"time"

	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/types"
)

const earthRadiusMeters = 6371000.0

// minSpeedMps is the floor below which an ETA is considered undefined.
const minSpeedMps = 0.1

// Fix is the last accepted receiver sample. Valid is recomputed at read time
// from the fix age, never cached.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Speed      float64 // meters per second over ground
	Course     float64 // degrees
	Satellites int
	HDOP       float64
	Valid      bool
	AgeMs      int64
}

// Positioning owns the incremental receiver parser, the latest fix and the
// coordinate ring buffer used for the averaged location. Feed it raw bytes
// from the receiver; everything else is derived.
type Positioning struct {
	log    *logger.Logger
	parser nmeaParser

	fix        Fix
	fixTime    time.Time
	hasFix     bool
	lastAccept time.Time

	samples []types.Coordinate
	idx     int
	filled  bool

	fixTimeout  time.Duration
	minInterval time.Duration

	now func() time.Time
}

func NewPositioning(avgSamples int, fixTimeout, minInterval time.Duration, log *logger.Logger) *Positioning {
	if avgSamples < 1 {
		avgSamples = 1
	}
	return &Positioning{
		log:         log,
		samples:     make([]types.Coordinate, avgSamples),
		fixTimeout:  fixTimeout,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Feed consumes raw bytes from the receiver. Each completed position sentence
// that passes the checksum and reports a valid fix supersedes the current Fix,
// rate-limited to one accepted sample per minimum update interval.
func (p *Positioning) Feed(data []byte) {
	for _, b := range data {
		upd, ok := p.parser.push(b)
		if !ok {
			continue
		}
		if upd.err != nil {
			p.log.Debugf("discarding sentence: %v", upd.err)
			continue
		}
		if !upd.positionUpdate {
			continue
		}
		now := p.now()
		if !p.lastAccept.IsZero() && now.Sub(p.lastAccept) < p.minInterval {
			continue
		}
		p.lastAccept = now
		p.fixTime = now
		p.hasFix = true

		p.fix.Latitude = upd.lat
		p.fix.Longitude = upd.lon
		p.fix.Speed = upd.speedMps
		p.fix.Course = upd.course
		if upd.hasQuality {
			p.fix.Altitude = upd.altitude
			p.fix.Satellites = upd.satellites
			p.fix.HDOP = upd.hdop
		}

		p.samples[p.idx] = types.Coordinate{Lat: upd.lat, Lon: upd.lon}
		p.idx++
		if p.idx >= len(p.samples) {
			p.idx = 0
			p.filled = true
		}
		p.log.Debugf("fix %.6f,%.6f sats=%d hdop=%.2f", upd.lat, upd.lon, p.fix.Satellites, p.fix.HDOP)
	}
}

// CurrentFix returns the latest instantaneous fix with validity and age
// evaluated against the fix timeout.
func (p *Positioning) CurrentFix() Fix {
	f := p.fix
	if !p.hasFix {
		f.Valid = false
		return f
	}
	age := p.now().Sub(p.fixTime)
	f.AgeMs = age.Milliseconds()
	f.Valid = age < p.fixTimeout
	return f
}

// Valid reports whether the current fix is usable.
func (p *Positioning) Valid() bool {
	return p.CurrentFix().Valid
}

// AveragedLocation returns the current fix with lat/lon replaced by the
// arithmetic mean of the buffered samples. With an empty buffer it falls back
// to the instantaneous fix.
func (p *Positioning) AveragedLocation() Fix {
	f := p.CurrentFix()
	n := p.sampleCount()
	if n == 0 {
		return f
	}
	var sumLat, sumLon float64
	for i := 0; i < n; i++ {
		sumLat += p.samples[i].Lat
		sumLon += p.samples[i].Lon
	}
	f.Latitude = sumLat / float64(n)
	f.Longitude = sumLon / float64(n)
	return f
}

func (p *Positioning) sampleCount() int {
	if p.filled {
		return len(p.samples)
	}
	return p.idx
}

// ETA returns the estimated seconds to reach target at the current ground
// speed, or -1 when the fix is invalid or the unit is effectively stationary.
func (p *Positioning) ETA(target types.Coordinate) float64 {
	f := p.CurrentFix()
	if !f.Valid || f.Speed < minSpeedMps {
		return -1
	}
	d := Distance(types.Coordinate{Lat: f.Latitude, Lon: f.Longitude}, target)
	return d / f.Speed
}

// WithinRange reports whether the averaged location lies within radius meters
// of target. A stale fix always reports false.
func (p *Positioning) WithinRange(target types.Coordinate, radius float64) bool {
	if !p.Valid() {
		return false
	}
	avg := p.AveragedLocation()
	return Distance(types.Coordinate{Lat: avg.Latitude, Lon: avg.Longitude}, target) <= radius
}

// Distance computes the haversine great-circle distance in meters. It is the
// single distance implementation for the whole unit; nothing approximates it
// with planar deltas.
func Distance(a, b types.Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}
