package types

import (
	"encoding/json"
	"fmt"
)

// Coordinate is a WGS84 lat/lon pair in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// RideOffer is the parsed form of an inbound ride notification. It exists only
// while the operator FSM holds a ride and is cleared on completion, rejection,
// cancellation, or expiry.
type RideOffer struct {
	RideID        string
	Pickup        Coordinate
	Drop          Coordinate
	PickupAddress string
	DropAddress   string

	// Derived at parse time from the unit's own position.
	DistanceToPickup float64 // meters, -1 when no valid fix
	EstimatedPoints  float64
	ETASeconds       float64 // -1 when undefined
}

// rideNotification is the wire shape of an offer document.
type rideNotification struct {
	RideID        string   `json:"ride_id"`
	PickupLat     *float64 `json:"pickup_lat"`
	PickupLon     *float64 `json:"pickup_lon"`
	DropLat       *float64 `json:"drop_lat"`
	DropLon       *float64 `json:"drop_lon"`
	PickupAddress string   `json:"pickup_address"`
	DropAddress   string   `json:"drop_address"`
}

// ParseRideOffer decodes a ride notification document, rejecting payloads that
// are missing required fields. Derived fields are left for the caller to fill.
func ParseRideOffer(payload []byte) (*RideOffer, error) {
	var doc rideNotification
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("malformed ride notification: %w", err)
	}
	if doc.RideID == "" {
		return nil, fmt.Errorf("ride notification missing ride_id")
	}
	if doc.PickupLat == nil || doc.PickupLon == nil || doc.DropLat == nil || doc.DropLon == nil {
		return nil, fmt.Errorf("ride notification %s missing coordinates", doc.RideID)
	}
	return &RideOffer{
		RideID:           doc.RideID,
		Pickup:           Coordinate{Lat: *doc.PickupLat, Lon: *doc.PickupLon},
		Drop:             Coordinate{Lat: *doc.DropLat, Lon: *doc.DropLon},
		PickupAddress:    doc.PickupAddress,
		DropAddress:      doc.DropAddress,
		DistanceToPickup: -1,
		ETASeconds:       -1,
	}, nil
}
