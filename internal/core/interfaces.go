package core

import (
	"context"

	"aeras-dispatch/internal/channel"
	"aeras-dispatch/internal/hardware"
	"aeras-dispatch/internal/settle"
	"aeras-dispatch/internal/store"
	"aeras-dispatch/internal/types"
)

// Link defines the backend messaging operations the unit systems need.
type Link interface {
	Handle(topic string, h channel.Handler)
	SetIdentity(deviceID, driverID string)
	SetHeartbeatSource(build func() []byte)
	Update(ctx context.Context)
	Publish(ctx context.Context, topic string, data []byte) error
	PublishOrQueue(ctx context.Context, topic string, data []byte)
	Connected() bool
	QueueDepth() int
	Close() error
}

// OperatorStore defines the persistence operations of the operator unit.
type OperatorStore interface {
	LoadOperator(ctx context.Context, driverID, deviceID string) (store.OperatorRecord, error)
	SaveIdentity(ctx context.Context, driverID, deviceID string) error
	SaveTotals(ctx context.Context, totalPoints float64, rideCount int) error
	SaveLastLocation(ctx context.Context, c types.Coordinate) error
	RecordSettlement(ctx context.Context, rideID string, r settle.Result) error
}

// RequesterStore defines the persistence operations of the requester unit.
type RequesterStore interface {
	LoadBlockID(ctx context.Context, def string) (string, error)
	SaveBlockID(ctx context.Context, blockID string) error
	LoadRequesterState(ctx context.Context) (types.RequesterState, string, error)
	SaveRequesterState(ctx context.Context, state types.RequesterState, destination string) error
}

// Console delivers debounced button edges from the unit's panel.
type Console interface {
	Poll() []hardware.ButtonEvent
}

// Annunciator drives the unit's LEDs and buzzer.
type Annunciator interface {
	Set(name string, on bool) error
	PlayCue(name string) error
}

// NMEASource yields raw receiver bytes. Reads time out quickly so the
// control loop is never held up by a quiet port.
type NMEASource interface {
	Read(buf []byte) (int, error)
}

var (
	_ Link           = (*channel.Channel)(nil)
	_ OperatorStore  = (*store.Store)(nil)
	_ RequesterStore = (*store.Store)(nil)
	_ Console        = (*hardware.Buttons)(nil)
	_ Annunciator    = (*hardware.Indicators)(nil)
	_ NMEASource     = (*hardware.GPSPort)(nil)
)
