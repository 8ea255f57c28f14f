package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// envelopeBody is the unsigned portion of an outbound frame: the event kind,
// the sender identity, a monotonic timestamp in milliseconds since link
// start, and the inner document.
type envelopeBody struct {
	Event     string          `json:"event"`
	DeviceID  string          `json:"device_id"`
	DriverID  string          `json:"driver_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Envelope is the wire frame for every outbound message. Signature is the hex
// HMAC-SHA256 of the marshaled unsigned body under the unit's preshared key.
type Envelope struct {
	envelopeBody
	Signature string `json:"signature"`
}

// Seal stamps data with the event kind, sender identity and timestamp, then
// signs the body for publishing.
func Seal(key []byte, event, deviceID, driverID string, timestampMs int64, data []byte) ([]byte, error) {
	body := envelopeBody{
		Event:     event,
		DeviceID:  deviceID,
		DriverID:  driverID,
		Timestamp: timestampMs,
		Data:      json.RawMessage(data),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{envelopeBody: body, Signature: sign(key, raw)})
}

// Open verifies a sealed envelope and returns the inner data. It is the
// receiving half of the contract: the backend applies it to unit traffic.
// Anything with a missing or wrong signature is rejected.
func Open(key, raw []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Signature == "" {
		return nil, fmt.Errorf("unsigned envelope")
	}
	body, err := json.Marshal(env.envelopeBody)
	if err != nil {
		return nil, err
	}
	want := sign(key, body)
	if !hmac.Equal([]byte(env.Signature), []byte(want)) {
		return nil, fmt.Errorf("signature mismatch")
	}
	return env.Data, nil
}

func sign(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
