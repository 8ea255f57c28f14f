package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/librescoot/librefsm"

	"aeras-dispatch/internal/channel"
	"aeras-dispatch/internal/config"
	"aeras-dispatch/internal/fsm"
	"aeras-dispatch/internal/fusion"
	"aeras-dispatch/internal/hardware"
	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/observability"
	"aeras-dispatch/internal/settle"
	"aeras-dispatch/internal/types"
)

// idleReportInterval spaces out location persistence and reporting while no
// ride is in progress.
const idleReportInterval = 5 * time.Second

// OperatorSystem is the control core of the mobile driver unit. One Tick per
// control-loop iteration advances the link, feeds the sensors, applies console
// gestures and drives the ride lifecycle machine.
type OperatorSystem struct {
	cfg config.Config
	log *logger.Logger

	link    Link
	store   OperatorStore
	pos     *fusion.Positioning
	gps     NMEASource
	console Console
	press   *hardware.PressFilter
	ann     Annunciator
	engine  *settle.Engine

	machine *librefsm.Machine

	offer       *types.RideOffer
	totalPoints float64
	rideCount   int

	linkWasUp    bool
	startedAt    time.Time
	lastIdleSave time.Time
	gpsBuf       []byte

	now func() time.Time
}

var _ fsm.OperatorActions = (*OperatorSystem)(nil)

func NewOperatorSystem(cfg config.Config, link Link, st OperatorStore, gps NMEASource,
	console Console, ann Annunciator, log *logger.Logger) *OperatorSystem {
	return &OperatorSystem{
		cfg:     cfg,
		log:     log,
		link:    link,
		store:   st,
		pos:     fusion.NewPositioning(cfg.AvgSamples, cfg.FixTimeout, cfg.MinUpdateInterval, log.WithTag("gps")),
		gps:     gps,
		console: console,
		press:   hardware.NewPressFilter(cfg.DoublePressLockout, cfg.HoldTimeout),
		ann:     ann,
		engine:  settle.NewEngine(cfg.BasePoints, cfg.DistanceDivisor, cfg.AccuracyThreshold, cfg.AdminReviewRadius, log.WithTag("settle")),
		gpsBuf:  make([]byte, 512),
		now:     time.Now,
	}
}

// Start restores persisted totals, registers the inbound handlers and brings
// up the lifecycle machine. The link itself connects lazily on the first Tick.
func (o *OperatorSystem) Start(ctx context.Context) error {
	o.startedAt = o.now()

	rec, err := o.store.LoadOperator(ctx, o.cfg.DriverID, o.cfg.DeviceID)
	if err != nil {
		o.log.Warnf("loading operator record: %v (starting fresh)", err)
	} else {
		o.totalPoints = rec.TotalPoints
		o.rideCount = rec.RideCount
		o.log.Infof("restored operator %s: %.1f points over %d rides", rec.DriverID, rec.TotalPoints, rec.RideCount)
	}
	if err := o.store.SaveIdentity(ctx, o.cfg.DriverID, o.cfg.DeviceID); err != nil {
		o.log.Warnf("saving identity: %v", err)
	}

	o.link.SetIdentity(o.cfg.DeviceID, o.cfg.DriverID)
	o.link.Handle(channel.TopicRideNotify, o.handleRideNotify)
	o.link.Handle(channel.TopicRideCancel, o.handleRideCancel)
	o.link.SetHeartbeatSource(o.heartbeat)

	machine, err := fsm.NewOperatorDefinition(o, o.cfg.AcceptTimeout, o.cfg.CompletedDwell).Build()
	if err != nil {
		return fmt.Errorf("building lifecycle machine: %w", err)
	}
	o.machine = machine
	o.machine.OnStateChange(func(from, to librefsm.StateID) {
		observability.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
		o.log.Infof("state transition: %s -> %s", from, to)
	})
	if err := o.machine.Start(ctx); err != nil {
		return fmt.Errorf("starting lifecycle machine: %w", err)
	}
	return nil
}

// Run drives the control loop until the context is cancelled.
func (o *OperatorSystem) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick advances the unit by one control-loop iteration.
func (o *OperatorSystem) Tick(ctx context.Context) {
	o.link.Update(ctx)
	o.observeLink()
	o.feedGPS()
	o.pumpConsole(ctx)
	o.tickState(ctx)
}

// State returns the current lifecycle state.
func (o *OperatorSystem) State() types.OperatorState {
	return types.OperatorState(o.machine.CurrentState())
}

// CurrentOffer returns the ride in progress, nil when idle.
func (o *OperatorSystem) CurrentOffer() *types.RideOffer { return o.offer }

// Totals returns the accumulated award and ride count.
func (o *OperatorSystem) Totals() (float64, int) { return o.totalPoints, o.rideCount }

func (o *OperatorSystem) observeLink() {
	up := o.link.Connected()
	if up == o.linkWasUp {
		return
	}
	o.linkWasUp = up
	if up {
		o.sendEvent(fsm.EvOpLinkRestored)
	} else {
		o.sendEvent(fsm.EvOpLinkLost)
	}
}

func (o *OperatorSystem) feedGPS() {
	if o.gps == nil {
		return
	}
	n, err := o.gps.Read(o.gpsBuf)
	if err != nil {
		o.log.Debugf("receiver read: %v", err)
		return
	}
	if n > 0 {
		o.pos.Feed(o.gpsBuf[:n])
	}
}

func (o *OperatorSystem) pumpConsole(ctx context.Context) {
	if o.console == nil {
		return
	}
	for _, ev := range o.console.Poll() {
		if act := o.press.Feed(ev); act != nil {
			o.handleGesture(ctx, *act)
		}
	}
	for _, act := range o.press.Tick(o.now()) {
		o.handleGesture(ctx, act)
	}
}

func (o *OperatorSystem) handleGesture(ctx context.Context, act hardware.PressAction) {
	state := o.machine.CurrentState()
	switch {
	case act.Name == "accept" && act.Kind == hardware.PressShort:
		if state == fsm.OpNotified {
			o.acceptRide(ctx)
		}
	case act.Name == "reject" && act.Kind == hardware.PressShort:
		if state == fsm.OpNotified {
			o.rejectRide(ctx)
		}
	case act.Name == "reject" && act.Kind == hardware.PressHold:
		if state == fsm.OpAccepted || state == fsm.OpEnrouteToPickup || state == fsm.OpArrivedPickup {
			o.cancelRide(ctx)
		}
	case act.Name == "pickup" && act.Kind == hardware.PressShort:
		if state == fsm.OpEnrouteToPickup || state == fsm.OpArrivedPickup {
			o.confirmPickup(ctx)
		}
	case act.Name == "drop" && act.Kind == hardware.PressShort:
		if state == fsm.OpRideActive || state == fsm.OpEnrouteToDrop {
			o.confirmDrop(ctx)
		}
	}
}

// tickState runs the per-state work that is driven by time and movement
// rather than by buttons or backend traffic.
func (o *OperatorSystem) tickState(ctx context.Context) {
	switch o.machine.CurrentState() {
	case fsm.OpIdle:
		o.idleReport(ctx)
	case fsm.OpAccepted:
		// Accepted is a momentary state; travel starts immediately.
		o.sendEvent(fsm.EvOpDepartPickup)
	case fsm.OpEnrouteToPickup:
		// Arrival is declared inside the manual-confirm radius; the
		// tighter auto-confirm radius then fires the pickup itself.
		if o.offer != nil && o.pos.WithinRange(o.offer.Pickup, o.cfg.PickupMaxRadius) {
			o.log.Infof("arrived at pickup (within %.0fm)", o.cfg.PickupMaxRadius)
			o.sendEvent(fsm.EvOpArrivedPickup)
		}
	case fsm.OpArrivedPickup:
		if o.offer != nil && o.pos.WithinRange(o.offer.Pickup, o.cfg.PickupAutoRadius) {
			o.confirmPickup(ctx)
		}
	case fsm.OpRideActive:
		o.sendEvent(fsm.EvOpDepartDrop)
	case fsm.OpEnrouteToDrop:
		if o.offer != nil && o.pos.WithinRange(o.offer.Drop, o.cfg.DropAutoRadius) {
			o.log.Infof("arrived at drop (within %.0fm)", o.cfg.DropAutoRadius)
			o.confirmDrop(ctx)
		}
	}
}

func (o *OperatorSystem) idleReport(ctx context.Context) {
	now := o.now()
	if !o.lastIdleSave.IsZero() && now.Sub(o.lastIdleSave) < idleReportInterval {
		return
	}
	o.lastIdleSave = now
	if !o.pos.Valid() {
		return
	}
	fix := o.pos.CurrentFix()
	loc := types.Coordinate{Lat: fix.Latitude, Lon: fix.Longitude}
	if err := o.store.SaveLastLocation(ctx, loc); err != nil {
		o.log.Warnf("saving location: %v", err)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"device_id":  o.cfg.DeviceID,
		"driver_id":  o.cfg.DriverID,
		"lat":        fix.Latitude,
		"lon":        fix.Longitude,
		"satellites": fix.Satellites,
		"hdop":       fix.HDOP,
	})
	o.link.PublishOrQueue(ctx, channel.TopicDeviceLocation, payload)
}

// ----- backend traffic -----

func (o *OperatorSystem) handleRideNotify(payload []byte) error {
	if o.machine.CurrentState() != fsm.OpIdle {
		o.log.Infof("ignoring ride notification while busy")
		return nil
	}
	offer, err := types.ParseRideOffer(payload)
	if err != nil {
		return err
	}
	if o.pos.Valid() {
		avg := o.pos.AveragedLocation()
		here := types.Coordinate{Lat: avg.Latitude, Lon: avg.Longitude}
		offer.DistanceToPickup = fusion.Distance(here, offer.Pickup)
		offer.EstimatedPoints = o.engine.Estimate(here, offer.Pickup)
		offer.ETASeconds = o.pos.ETA(offer.Pickup)
	}
	o.offer = offer
	o.log.Infof("ride %s offered: pickup %.1fm away, est %.1f points",
		offer.RideID, offer.DistanceToPickup, offer.EstimatedPoints)
	return o.sendEvent(fsm.EvOpOfferReceived)
}

func (o *OperatorSystem) handleRideCancel(payload []byte) error {
	var doc struct {
		RideID string `json:"ride_id"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("malformed cancel: %w", err)
	}
	if o.offer == nil || o.offer.RideID != doc.RideID {
		o.log.Debugf("cancel for unknown ride %s", doc.RideID)
		return nil
	}
	o.log.Infof("ride %s cancelled by backend", doc.RideID)
	return o.sendEvent(fsm.EvOpRideCancelled)
}

// ----- publish-gated transitions -----

func (o *OperatorSystem) acceptRide(ctx context.Context) {
	if o.offer == nil {
		return
	}
	fix := o.pos.CurrentFix()
	payload, _ := json.Marshal(map[string]interface{}{
		"ride_id":          o.offer.RideID,
		"driver_id":        o.cfg.DriverID,
		"device_id":        o.cfg.DeviceID,
		"lat":              fix.Latitude,
		"lon":              fix.Longitude,
		"estimated_points": o.offer.EstimatedPoints,
		"eta_seconds":      o.offer.ETASeconds,
	})
	if err := o.link.Publish(ctx, channel.TopicRideAccept, payload); err != nil {
		o.log.Errorf("accept failed: %v", err)
		o.cueError()
		return
	}
	o.sendEvent(fsm.EvOpAccepted)
}

func (o *OperatorSystem) rejectRide(ctx context.Context) {
	if o.offer == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"ride_id": o.offer.RideID,
		"reason":  "Driver rejected",
	})
	if err := o.link.Publish(ctx, channel.TopicRideReject, payload); err != nil {
		o.log.Errorf("reject failed: %v", err)
		o.cueError()
		return
	}
	o.clearRide()
	o.sendEvent(fsm.EvOpRejected)
}

func (o *OperatorSystem) cancelRide(ctx context.Context) {
	if o.offer == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"ride_id": o.offer.RideID,
		"reason":  "Driver cancelled",
	})
	if err := o.link.Publish(ctx, channel.TopicRideCancel, payload); err != nil {
		o.log.Errorf("cancel failed: %v", err)
		o.cueError()
		return
	}
	o.log.Infof("ride %s cancelled by operator", o.offer.RideID)
	o.clearRide()
	o.sendEvent(fsm.EvOpCancelled)
}

func (o *OperatorSystem) confirmPickup(ctx context.Context) {
	if o.offer == nil {
		return
	}
	// A manual confirm is honored within the outer pickup radius, or blind
	// when the receiver has no fix to argue with.
	if o.pos.Valid() && !o.pos.WithinRange(o.offer.Pickup, o.cfg.PickupMaxRadius) {
		avg := o.pos.AveragedLocation()
		d := fusion.Distance(types.Coordinate{Lat: avg.Latitude, Lon: avg.Longitude}, o.offer.Pickup)
		o.log.Warnf("pickup refused: %.0fm from pickup point", d)
		o.cueError()
		return
	}
	fix := o.pos.CurrentFix()
	payload, _ := json.Marshal(map[string]interface{}{
		"ride_id": o.offer.RideID,
		"lat":     fix.Latitude,
		"lon":     fix.Longitude,
	})
	if err := o.link.Publish(ctx, channel.TopicRidePickup, payload); err != nil {
		o.log.Errorf("pickup confirm failed: %v", err)
		o.cueError()
		return
	}
	if o.machine.CurrentState() == fsm.OpEnrouteToPickup {
		o.sendEvent(fsm.EvOpArrivedPickup)
	}
	o.sendEvent(fsm.EvOpPickupConfirmed)
}

func (o *OperatorSystem) confirmDrop(ctx context.Context) {
	if o.offer == nil {
		return
	}
	avg := o.pos.AveragedLocation()
	actual := types.Coordinate{Lat: avg.Latitude, Lon: avg.Longitude}
	result := o.engine.Finalize(o.offer.Drop, actual, avg.HDOP)

	payload, _ := json.Marshal(map[string]interface{}{
		"ride_id":        o.offer.RideID,
		"lat":            actual.Lat,
		"lon":            actual.Lon,
		"points":         result.Points,
		"needs_review":   result.NeedsReview,
		"reason":         result.Reason,
		"distance_error": result.DistanceError,
		"gps_accuracy":   result.GPSAccuracy,
	})
	if err := o.link.Publish(ctx, channel.TopicRideDrop, payload); err != nil {
		o.log.Errorf("drop confirm failed: %v", err)
		o.cueError()
		return
	}

	o.applySettlement(ctx, o.offer.RideID, result)
	if o.machine.CurrentState() == fsm.OpRideActive {
		o.sendEvent(fsm.EvOpDepartDrop)
	}
	o.sendEvent(fsm.EvOpDropConfirmed)
}

func (o *OperatorSystem) applySettlement(ctx context.Context, rideID string, result settle.Result) {
	if !result.NeedsReview {
		o.totalPoints += result.Points
		observability.PointsAwarded.Add(result.Points)
	}
	o.rideCount++
	observability.RidesCompleted.Inc()

	if err := o.store.SaveTotals(ctx, o.totalPoints, o.rideCount); err != nil {
		o.log.Warnf("saving totals: %v", err)
	}
	if err := o.store.RecordSettlement(ctx, rideID, result); err != nil {
		o.log.Warnf("recording settlement: %v", err)
	}
	o.log.Infof("ride %s settled: %s", rideID, o.engine.Breakdown(result))
}

func (o *OperatorSystem) heartbeat() []byte {
	doc := map[string]interface{}{
		"device_id":    o.cfg.DeviceID,
		"driver_id":    o.cfg.DriverID,
		"role":         "operator",
		"state":        string(o.State()),
		"uptime_s":     int64(o.now().Sub(o.startedAt).Seconds()),
		"queue_depth":  o.link.QueueDepth(),
		"total_points": o.totalPoints,
		"ride_count":   o.rideCount,
	}
	if o.pos.Valid() {
		fix := o.pos.CurrentFix()
		doc["lat"] = fix.Latitude
		doc["lon"] = fix.Longitude
	}
	payload, _ := json.Marshal(doc)
	return payload
}

func (o *OperatorSystem) sendEvent(ev librefsm.EventID) error {
	if err := o.machine.SendSync(librefsm.Event{ID: ev}); err != nil {
		o.log.Debugf("event %s not applicable: %v", ev, err)
		return err
	}
	return nil
}

func (o *OperatorSystem) clearRide() {
	o.offer = nil
}

func (o *OperatorSystem) cueError() {
	if o.ann != nil {
		o.ann.PlayCue("error")
	}
}
