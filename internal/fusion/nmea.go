package fusion

import (
	"fmt"
	"strconv"
	"strings"
)

const maxSentenceLen = 120

// sentenceUpdate is the parsed result of one complete sentence. positionUpdate
// is set only for RMC sentences with an active fix; GGA sentences update the
// quality fields carried by the next position update.
type sentenceUpdate struct {
	err            error
	positionUpdate bool
	lat, lon       float64
	speedMps       float64
	course         float64
	hasQuality     bool
	altitude       float64
	satellites     int
	hdop           float64
}

// nmeaParser assembles sentences byte by byte. The zero value is ready to use.
// Quality data from GGA is held and merged into the following RMC update so
// callers see one coherent sample per cycle.
type nmeaParser struct {
	buf        []byte
	inSentence bool

	pendingQuality bool
	altitude       float64
	satellites     int
	hdop           float64
}

// push feeds one byte. The second return is true when a complete sentence was
// terminated; the update then carries either the parse result or an error.
func (np *nmeaParser) push(b byte) (sentenceUpdate, bool) {
	switch {
	case b == '$':
		np.buf = np.buf[:0]
		np.inSentence = true
		return sentenceUpdate{}, false
	case !np.inSentence:
		return sentenceUpdate{}, false
	case b == '\r' || b == '\n':
		np.inSentence = false
		if len(np.buf) == 0 {
			return sentenceUpdate{}, false
		}
		return np.parse(string(np.buf)), true
	default:
		if len(np.buf) >= maxSentenceLen {
			np.inSentence = false
			return sentenceUpdate{err: fmt.Errorf("sentence overflow")}, true
		}
		np.buf = append(np.buf, b)
		return sentenceUpdate{}, false
	}
}

func (np *nmeaParser) parse(s string) sentenceUpdate {
	body := s
	if i := strings.IndexByte(s, '*'); i >= 0 {
		body = s[:i]
		want, err := strconv.ParseUint(s[i+1:], 16, 8)
		if err != nil {
			return sentenceUpdate{err: fmt.Errorf("bad checksum field %q", s[i+1:])}
		}
		var sum byte
		for j := 0; j < i; j++ {
			sum ^= s[j]
		}
		if sum != byte(want) {
			return sentenceUpdate{err: fmt.Errorf("checksum mismatch: got %02X want %02X", sum, want)}
		}
	}

	fields := strings.Split(body, ",")
	if len(fields) == 0 || len(fields[0]) < 5 {
		return sentenceUpdate{err: fmt.Errorf("short sentence %q", body)}
	}
	switch fields[0][2:] {
	case "RMC":
		return np.parseRMC(fields)
	case "GGA":
		return np.parseGGA(fields)
	default:
		return sentenceUpdate{}
	}
}

// parseRMC handles the recommended-minimum sentence:
// $xxRMC,time,status,lat,N/S,lon,E/W,speed-knots,course,date,...
func (np *nmeaParser) parseRMC(f []string) sentenceUpdate {
	if len(f) < 9 {
		return sentenceUpdate{err: fmt.Errorf("RMC: %d fields", len(f))}
	}
	if f[2] != "A" {
		return sentenceUpdate{} // void fix, nothing to report
	}
	lat, err := parseCoordinate(f[3], f[4])
	if err != nil {
		return sentenceUpdate{err: fmt.Errorf("RMC latitude: %w", err)}
	}
	lon, err := parseCoordinate(f[5], f[6])
	if err != nil {
		return sentenceUpdate{err: fmt.Errorf("RMC longitude: %w", err)}
	}
	upd := sentenceUpdate{positionUpdate: true, lat: lat, lon: lon}
	if knots, err := strconv.ParseFloat(f[7], 64); err == nil {
		upd.speedMps = knots * 0.514444
	}
	if course, err := strconv.ParseFloat(f[8], 64); err == nil {
		upd.course = course
	}
	if np.pendingQuality {
		upd.hasQuality = true
		upd.altitude = np.altitude
		upd.satellites = np.satellites
		upd.hdop = np.hdop
	}
	return upd
}

// parseGGA handles the fix-data sentence:
// $xxGGA,time,lat,N/S,lon,E/W,quality,sats,hdop,alt,M,...
func (np *nmeaParser) parseGGA(f []string) sentenceUpdate {
	if len(f) < 10 {
		return sentenceUpdate{err: fmt.Errorf("GGA: %d fields", len(f))}
	}
	if f[6] == "0" || f[6] == "" {
		return sentenceUpdate{} // no fix
	}
	if n, err := strconv.Atoi(f[7]); err == nil {
		np.satellites = n
	}
	if h, err := strconv.ParseFloat(f[8], 64); err == nil {
		np.hdop = h
	}
	if a, err := strconv.ParseFloat(f[9], 64); err == nil {
		np.altitude = a
	}
	np.pendingQuality = true
	return sentenceUpdate{}
}

// parseCoordinate converts ddmm.mmmm / dddmm.mmmm plus hemisphere to signed
// decimal degrees.
func parseCoordinate(value, hemi string) (float64, error) {
	if value == "" || hemi == "" {
		return 0, fmt.Errorf("empty field")
	}
	raw, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	deg := float64(int(raw / 100))
	min := raw - deg*100
	d := deg + min/60.0
	switch hemi {
	case "S", "W":
		d = -d
	case "N", "E":
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemi)
	}
	return d, nil
}
