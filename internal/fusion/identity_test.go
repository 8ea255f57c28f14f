package fusion

import (
	"testing"
	"time"
)

// playFrame emits the on-off keying for a 4-bit token: start pulse (2 bit
// periods on, 1 off), four data bits MSB-first (1 period on or off plus a
// half-period gap), then a stop pulse.
func playFrame(d *IdentityDecoder, token int, bit time.Duration, start time.Time) time.Time {
	t := start
	emit := func(level bool, dur time.Duration) {
		d.Feed(level, t)
		t = t.Add(dur)
	}

	emit(true, 2*bit) // start
	emit(false, bit)
	for k := 3; k >= 0; k-- {
		one := (token>>k)&1 == 1
		emit(one, bit)
		emit(false, bit/2)
	}
	emit(true, 2*bit) // stop
	emit(false, bit)
	return t
}

func TestIdentityFrameDecoded(t *testing.T) {
	for token := 0; token < 16; token++ {
		d := NewIdentityDecoder(200 * time.Millisecond)
		playFrame(d, token, 200*time.Millisecond, time.Unix(1000, 0))
		got, ok := d.DecodedID()
		if !ok {
			t.Fatalf("token %04b: no frame decoded", token)
		}
		if got != token {
			t.Errorf("token %04b decoded as %04b", token, got)
		}
	}
}

func TestIdentityBackToBackFrames(t *testing.T) {
	d := NewIdentityDecoder(200 * time.Millisecond)
	end := playFrame(d, 0b1010, 200*time.Millisecond, time.Unix(1000, 0))
	playFrame(d, 0b0110, 200*time.Millisecond, end.Add(time.Second))

	got, ok := d.DecodedID()
	if !ok || got != 0b0110 {
		t.Errorf("decoded = %04b ok=%v, want 0110", got, ok)
	}
}

func TestIdentityIgnoresCarrierChatter(t *testing.T) {
	// short pulses with no start framing must not produce an identity
	d := NewIdentityDecoder(200 * time.Millisecond)
	at := time.Unix(1000, 0)
	for i := 0; i < 20; i++ {
		d.Feed(true, at)
		at = at.Add(100 * time.Millisecond)
		d.Feed(false, at)
		at = at.Add(100 * time.Millisecond)
	}
	if _, ok := d.DecodedID(); ok {
		t.Error("carrier pulses without framing must not decode")
	}
}

func TestIdentityReset(t *testing.T) {
	d := NewIdentityDecoder(200 * time.Millisecond)
	playFrame(d, 0b1111, 200*time.Millisecond, time.Unix(1000, 0))
	d.Reset()
	if _, ok := d.DecodedID(); ok {
		t.Error("reset must clear the decoded identity")
	}
}
