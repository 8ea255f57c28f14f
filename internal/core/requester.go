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
	"aeras-dispatch/internal/types"
)

// RequesterSystem is the control core of the fixed pickup-point kiosk. It
// watches for an approaching user, verifies the privilege token, and walks a
// confirmed request through the backend conversation.
type RequesterSystem struct {
	cfg config.Config
	log *logger.Logger

	link      Link
	store     RequesterStore
	presence  *fusion.Presence
	privilege *fusion.Privilege
	identity  *fusion.IdentityDecoder
	console   Console
	press     *hardware.PressFilter
	ann       Annunciator

	machine *librefsm.Machine

	blockID      string
	destinations []string
	destIdx      int

	verified    bool
	tokenID     int
	tokenKnown  bool
	rejectCause string
	errorCause  string

	startedAt time.Time
	linkWasUp bool

	now func() time.Time
}

var _ fsm.RequesterActions = (*RequesterSystem)(nil)

func NewRequesterSystem(cfg config.Config, link Link, st RequesterStore,
	ranger fusion.RangeSensor, light fusion.LightSensor,
	console Console, ann Annunciator, log *logger.Logger) *RequesterSystem {
	r := &RequesterSystem{
		cfg:   cfg,
		log:   log,
		link:  link,
		store: st,
		presence: fusion.NewPresence(ranger, cfg.PresenceMinRangeCm, cfg.PresenceMaxRangeCm,
			cfg.PresenceToleranceCm, cfg.PresenceDwell, cfg.PresenceSampleInterval, log.WithTag("presence")),
		privilege: fusion.NewPrivilege(light, cfg.PrivilegeWindow, cfg.TargetFrequencyHz,
			cfg.FrequencyTolerance, cfg.MinPulses, cfg.EdgeThreshold, cfg.DCFilterAlpha, log.WithTag("privilege")),
		identity:     fusion.NewIdentityDecoder(cfg.IdentityBitPeriod),
		console:      console,
		press:        hardware.NewPressFilter(cfg.DoublePressLockout, cfg.HoldTimeout),
		ann:          ann,
		blockID:      cfg.BlockID,
		destinations: cfg.Destinations,
		now:          time.Now,
	}
	// The identity sequence rides on the same detector the frequency check
	// samples.
	r.privilege.SetLevelTap(r.identity.Feed)
	return r
}

// Start restores the kiosk configuration and brings up the request machine.
func (r *RequesterSystem) Start(ctx context.Context) error {
	r.startedAt = r.now()

	if id, err := r.store.LoadBlockID(ctx, r.cfg.BlockID); err != nil {
		r.log.Warnf("loading block id: %v", err)
	} else {
		r.blockID = id
	}
	saved, dest, err := r.store.LoadRequesterState(ctx)
	if err != nil {
		r.log.Warnf("loading saved state: %v", err)
		saved = ""
	} else if dest != "" {
		for i, d := range r.destinations {
			if d == dest {
				r.destIdx = i
				break
			}
		}
	}
	r.log.Infof("kiosk %s at block %s, destination %q", r.cfg.DeviceID, r.blockID, r.Destination())

	r.link.SetIdentity(r.cfg.DeviceID, "")
	r.link.Handle(channel.RideStatusTopic(r.cfg.DeviceID), r.handleStatus)
	r.link.SetHeartbeatSource(r.heartbeat)

	machine, err := fsm.NewRequesterDefinition(r, fsm.RequesterTimeouts{
		Confirm:     r.cfg.ConfirmTimeout,
		SendRetry:   r.cfg.SendRetryWindow,
		OfferWindow: r.cfg.OfferWindow,
		ResultDwell: r.cfg.ResultDwell,
		ErrorDwell:  r.cfg.ErrorDwell,
	}).Build()
	if err != nil {
		return fmt.Errorf("building request machine: %w", err)
	}
	r.machine = machine
	r.machine.OnStateChange(func(from, to librefsm.StateID) {
		observability.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
		r.log.Infof("state transition: %s -> %s", from, to)
		if err := r.store.SaveRequesterState(context.Background(), types.RequesterState(to), r.Destination()); err != nil {
			r.log.Warnf("saving state: %v", err)
		}
	})
	if err := r.machine.Start(ctx); err != nil {
		return fmt.Errorf("starting request machine: %w", err)
	}

	// Best-effort resume after power loss. A stale mid-transaction state
	// settles on its own: presence checks fold sensor states back to idle
	// and the per-state timeouts close out the backend conversation.
	if saved != "" && saved != types.ReqStateIdle {
		if err := r.machine.SetState(librefsm.StateID(saved)); err != nil {
			r.log.Warnf("resuming in %s: %v", saved, err)
		} else {
			r.log.Infof("resumed in state %s", saved)
		}
	}
	return nil
}

// Run drives the control loop until the context is cancelled.
func (r *RequesterSystem) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick advances the kiosk by one control-loop iteration.
func (r *RequesterSystem) Tick(ctx context.Context) {
	r.link.Update(ctx)
	r.presence.Update()
	r.pumpConsole(ctx)
	r.tickState(ctx)
}

// State returns the current request-lifecycle state.
func (r *RequesterSystem) State() types.RequesterState {
	return types.RequesterState(r.machine.CurrentState())
}

// TokenIdentity returns the 4-bit holder identity announced by the last
// privilege token, if one transmitted it.
func (r *RequesterSystem) TokenIdentity() (int, bool) {
	return r.tokenID, r.tokenKnown
}

// Destination returns the currently selected destination block.
func (r *RequesterSystem) Destination() string {
	if len(r.destinations) == 0 {
		return ""
	}
	return r.destinations[r.destIdx]
}

func (r *RequesterSystem) pumpConsole(ctx context.Context) {
	if r.console == nil {
		return
	}
	for _, ev := range r.console.Poll() {
		if act := r.press.Feed(ev); act != nil {
			r.handleGesture(*act)
		}
	}
	for _, act := range r.press.Tick(r.now()) {
		r.handleGesture(act)
	}
}

func (r *RequesterSystem) handleGesture(act hardware.PressAction) {
	state := r.machine.CurrentState()
	switch {
	case act.Name == "request" && act.Kind == hardware.PressShort:
		if state == fsm.ReqWaitingForConfirm {
			r.sendEvent(fsm.EvReqConfirmPressed)
		}
	case act.Name == "request" && act.Kind == hardware.PressHold:
		// A stuck or held button at the confirm screen abandons the request.
		if state == fsm.ReqWaitingForConfirm {
			r.log.Infof("confirm abandoned by hold")
			if r.ann != nil {
				r.ann.PlayCue("error")
			}
			r.sendEvent(fsm.EvReqUserLeft)
		}
	case act.Name == "destination" && act.Kind == hardware.PressShort:
		if state == fsm.ReqIdle || state == fsm.ReqWaitingForConfirm {
			r.cycleDestination()
		}
	}
}

func (r *RequesterSystem) cycleDestination() {
	if len(r.destinations) == 0 {
		return
	}
	r.destIdx = (r.destIdx + 1) % len(r.destinations)
	r.log.Infof("destination changed to %q", r.Destination())
}

func (r *RequesterSystem) tickState(ctx context.Context) {
	switch r.machine.CurrentState() {
	case fsm.ReqIdle:
		if r.presence.InZone() {
			r.sendEvent(fsm.EvReqUserDetected)
		}
	case fsm.ReqUserDetected:
		if !r.presence.InZone() {
			r.sendEvent(fsm.EvReqUserLeft)
			return
		}
		if r.presence.Confirmed() {
			r.sendEvent(fsm.EvReqBeginPrivilege)
		}
	case fsm.ReqPrivilegeCheck:
		if !r.presence.InZone() {
			r.privilege.Reset()
			r.sendEvent(fsm.EvReqUserLeft)
			return
		}
		r.privilege.Update()
		if r.privilege.Done() {
			r.finishPrivilege()
		}
	case fsm.ReqWaitingForConfirm:
		if !r.presence.InZone() {
			r.sendEvent(fsm.EvReqUserLeft)
		}
	case fsm.ReqSendingRequest:
		r.trySendRequest(ctx)
	}
}

func (r *RequesterSystem) finishPrivilege() {
	// The token may announce a 4-bit holder identity during the check. It
	// is shown to staff only and never gates the verdict.
	if id, ok := r.identity.DecodedID(); ok {
		r.tokenID, r.tokenKnown = id, true
		r.log.Infof("holder identity %04b announced", id)
	}

	if r.privilege.Verified() {
		r.verified = true
		observability.PrivilegeChecks.WithLabelValues("granted").Inc()
		r.log.Infof("privilege verified at %.1f Hz", r.privilege.DetectedFrequency())
		r.sendEvent(fsm.EvReqPrivilegeGranted)
		return
	}

	reason := r.privilege.Reason()
	observability.PrivilegeChecks.WithLabelValues(string(reason)).Inc()
	switch reason {
	case fusion.DenialAmbientLight:
		r.errorCause = "Ambient light detected"
	case fusion.DenialWrongFrequency:
		r.errorCause = fmt.Sprintf("Wrong frequency: %.1f Hz", r.privilege.DetectedFrequency())
	default:
		r.errorCause = "No token detected"
	}
	r.log.Infof("privilege denied: %s", r.errorCause)
	r.sendEvent(fsm.EvReqPrivilegeDenied)
}

func (r *RequesterSystem) trySendRequest(ctx context.Context) {
	payload, _ := json.Marshal(map[string]interface{}{
		"block_id":    r.blockID,
		"device_id":   r.cfg.DeviceID,
		"destination": r.Destination(),
		"verified":    r.verified,
		"timestamp":   r.now().UTC().Format(time.RFC3339),
	})
	if err := r.link.Publish(ctx, channel.TopicRideRequest, payload); err != nil {
		// The send-retry state timeout gives up for us.
		r.log.Debugf("request send failed, retrying: %v", err)
		return
	}
	r.log.Infof("ride request sent for block %s to %q", r.blockID, r.Destination())
	r.sendEvent(fsm.EvReqRequestSent)
}

func (r *RequesterSystem) handleStatus(payload []byte) error {
	var doc struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("malformed status update: %w", err)
	}
	status, ok := types.ParseBackendStatus(doc.Status)
	if !ok {
		return fmt.Errorf("unknown status %q", doc.Status)
	}
	r.log.Infof("backend status: %s", status)

	switch status {
	case types.StatusIncomingOffer:
		r.sendEvent(fsm.EvReqOfferIncoming)
	case types.StatusAccepted:
		r.sendEvent(fsm.EvReqAccepted)
	case types.StatusRejected:
		r.rejectCause = "No rickshaw available"
		if doc.Reason != "" {
			r.rejectCause = doc.Reason
		}
		r.sendEvent(fsm.EvReqRejected)
	case types.StatusTimeout:
		r.rejectCause = "Request timeout"
		r.sendEvent(fsm.EvReqRejected)
	case types.StatusError:
		r.errorCause = "Backend error"
		r.sendEvent(fsm.EvReqBackendError)
	}
	return nil
}

func (r *RequesterSystem) heartbeat() []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"device_id":   r.cfg.DeviceID,
		"block_id":    r.blockID,
		"role":        "requester",
		"state":       string(r.State()),
		"uptime_s":    int64(r.now().Sub(r.startedAt).Seconds()),
		"queue_depth": r.link.QueueDepth(),
	})
	return payload
}

func (r *RequesterSystem) sendEvent(ev librefsm.EventID) error {
	if err := r.machine.SendSync(librefsm.Event{ID: ev}); err != nil {
		r.log.Debugf("event %s not applicable: %v", ev, err)
		return err
	}
	return nil
}
