// Package store persists the small amount of unit state that must survive a
// power cycle: the operator's running totals and last known location, and the
// requester's in-flight request. Everything lives in one Redis hash per unit,
// with change notifications published for anything watching the hash.
package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/settle"
	"aeras-dispatch/internal/types"
)

const settlementStream = "aeras:events:settlements"

// OperatorRecord is the durable state of an operator unit.
type OperatorRecord struct {
	DriverID     string
	DeviceID     string
	TotalPoints  float64
	RideCount    int
	LastLocation types.Coordinate
	HasLocation  bool
}

type Store struct {
	client *redis.Client
	log    *logger.Logger
	hash   string
}

// New returns a store persisting into the hash named for the unit.
func New(addr, deviceID string, log *logger.Logger) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: 0}),
		log:    log,
		hash:   "aeras:unit:" + deviceID,
	}
}

func (s *Store) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store connection failed: %w", err)
	}
	s.log.Infof("store connected, hash %s", s.hash)
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// setAndNotify atomically updates hash fields and publishes the changed field
// names on the hash's channel.
func (s *Store) setAndNotify(ctx context.Context, fields map[string]interface{}) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.hash, fields)
	for field := range fields {
		pipe.Publish(ctx, s.hash, field)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ===== Operator state =====

// LoadOperator reads the operator record, supplying the given identifiers as
// defaults when the hash is empty (first boot).
func (s *Store) LoadOperator(ctx context.Context, driverID, deviceID string) (OperatorRecord, error) {
	rec := OperatorRecord{DriverID: driverID, DeviceID: deviceID}

	values, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return rec, fmt.Errorf("loading operator record: %w", err)
	}
	if v, ok := values["driver_id"]; ok && v != "" {
		rec.DriverID = v
	}
	if v, ok := values["device_id"]; ok && v != "" {
		rec.DeviceID = v
	}
	if v, ok := values["total_points"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.TotalPoints = f
		}
	}
	if v, ok := values["ride_count"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			rec.RideCount = n
		}
	}
	lat, okLat := values["last_lat"]
	lon, okLon := values["last_lon"]
	if okLat && okLon {
		fLat, errLat := strconv.ParseFloat(lat, 64)
		fLon, errLon := strconv.ParseFloat(lon, 64)
		if errLat == nil && errLon == nil {
			rec.LastLocation = types.Coordinate{Lat: fLat, Lon: fLon}
			rec.HasLocation = true
		}
	}
	s.log.Infof("loaded operator record: %.2f points over %d rides", rec.TotalPoints, rec.RideCount)
	return rec, nil
}

// SaveIdentity writes the operator identifiers once at startup.
func (s *Store) SaveIdentity(ctx context.Context, driverID, deviceID string) error {
	return s.setAndNotify(ctx, map[string]interface{}{
		"driver_id": driverID,
		"device_id": deviceID,
	})
}

// SaveTotals persists the running point balance and ride counter.
func (s *Store) SaveTotals(ctx context.Context, totalPoints float64, rideCount int) error {
	return s.setAndNotify(ctx, map[string]interface{}{
		"total_points": strconv.FormatFloat(totalPoints, 'f', 2, 64),
		"ride_count":   rideCount,
	})
}

// SaveLastLocation persists the most recent averaged fix so the unit can
// report a plausible position before reacquiring after a restart.
func (s *Store) SaveLastLocation(ctx context.Context, c types.Coordinate) error {
	return s.setAndNotify(ctx, map[string]interface{}{
		"last_lat": strconv.FormatFloat(c.Lat, 'f', 6, 64),
		"last_lon": strconv.FormatFloat(c.Lon, 'f', 6, 64),
	})
}

// RecordSettlement appends the outcome of a settled ride to the audit stream.
func (s *Store) RecordSettlement(ctx context.Context, rideID string, r settle.Result) error {
	values := map[string]interface{}{
		"ride_id":        rideID,
		"points":         strconv.FormatFloat(r.Points, 'f', 2, 64),
		"distance_error": strconv.FormatFloat(r.DistanceError, 'f', 2, 64),
		"gps_accuracy":   strconv.FormatFloat(r.GPSAccuracy, 'f', 2, 64),
		"reason":         r.Reason,
	}
	if r.NeedsReview {
		values["needs_review"] = "true"
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: settlementStream,
		MaxLen: 1000,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("recording settlement: %w", err)
	}
	return nil
}

// ===== Requester state =====

// SaveRequesterState persists the lifecycle position and chosen destination
// so an in-flight request survives a restart.
func (s *Store) SaveRequesterState(ctx context.Context, state types.RequesterState, destination string) error {
	return s.setAndNotify(ctx, map[string]interface{}{
		"fsm_state":   string(state),
		"destination": destination,
	})
}

// LoadRequesterState returns the persisted lifecycle position and destination,
// or empty values on first boot.
func (s *Store) LoadRequesterState(ctx context.Context) (types.RequesterState, string, error) {
	values, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return "", "", fmt.Errorf("loading requester record: %w", err)
	}
	return types.RequesterState(values["fsm_state"]), values["destination"], nil
}

// SaveBlockID writes the accessibility-block identifier the unit serves.
func (s *Store) SaveBlockID(ctx context.Context, blockID string) error {
	return s.setAndNotify(ctx, map[string]interface{}{"block_id": blockID})
}

// LoadBlockID returns the persisted block identifier, falling back to def.
func (s *Store) LoadBlockID(ctx context.Context, def string) (string, error) {
	v, err := s.client.HGet(ctx, s.hash, "block_id").Result()
	if err == redis.Nil || v == "" {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v, nil
}
