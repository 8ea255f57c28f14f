package core

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"aeras-dispatch/internal/channel"
	"aeras-dispatch/internal/config"
	"aeras-dispatch/internal/fsm"
	"aeras-dispatch/internal/fusion"
	"aeras-dispatch/internal/hardware"
	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/types"
)

// Mock RequesterStore
type mockRequesterStore struct {
	blockID     string
	savedDest   string
	savedState  types.RequesterState
	savedStates []types.RequesterState
}

func (m *mockRequesterStore) LoadBlockID(ctx context.Context, def string) (string, error) {
	if m.blockID == "" {
		return def, nil
	}
	return m.blockID, nil
}

func (m *mockRequesterStore) SaveBlockID(ctx context.Context, blockID string) error {
	m.blockID = blockID
	return nil
}

func (m *mockRequesterStore) LoadRequesterState(ctx context.Context) (types.RequesterState, string, error) {
	return m.savedState, m.savedDest, nil
}

func (m *mockRequesterStore) SaveRequesterState(ctx context.Context, state types.RequesterState, destination string) error {
	m.savedStates = append(m.savedStates, state)
	m.savedDest = destination
	return nil
}

// Scripted sensors

type scriptedRanger struct {
	values []float64
	idx    int
}

func (s *scriptedRanger) MeasureDistanceCm() (float64, bool) {
	if len(s.values) == 0 {
		return 0, false
	}
	v := s.values[s.idx]
	if s.idx < len(s.values)-1 {
		s.idx++
	}
	return v, true
}

type scriptedLight struct {
	values []float64
	idx    int
	err    error
}

func (s *scriptedLight) ReadRaw() (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(s.values) == 0 {
		return 0, nil
	}
	v := s.values[s.idx]
	if s.idx < len(s.values)-1 {
		s.idx++
	}
	return v, nil
}

// Test helper

func requesterTestConfig() config.Config {
	cfg := config.Load()
	cfg.PresenceSampleInterval = 0 // sample every tick
	cfg.PresenceDwell = 0          // confirm immediately once stable
	cfg.PrivilegeWindow = 0        // verdict on the first sample
	return cfg
}

func newTestRequesterSystem(t *testing.T, ranger *scriptedRanger, light *scriptedLight) (*RequesterSystem, *mockLink, *mockRequesterStore, *mockConsole, *mockAnnunciator) {
	t.Helper()
	l := logger.NewLogger(nil, logger.LogLevelNone)
	link := newMockLink()
	st := &mockRequesterStore{}
	console := &mockConsole{}
	ann := newMockAnnunciator()
	sys := NewRequesterSystem(requesterTestConfig(), link, st, ranger, light, console, ann, l)
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return sys, link, st, console, ann
}

// tickUntil runs Tick until the predicate holds or the tick budget runs out.
func tickUntil(t *testing.T, sys *RequesterSystem, ticks int, pred func() bool) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		sys.Tick(context.Background())
		if pred() {
			return
		}
	}
	t.Fatalf("condition not reached within %d ticks, state %s", ticks, sys.State())
}

// ===== Construction and Start =====

func TestRequesterStartRestoresConfig(t *testing.T) {
	l := logger.NewLogger(nil, logger.LogLevelNone)
	link := newMockLink()
	st := &mockRequesterStore{blockID: "BLOCK_7", savedDest: "Noapara"}
	sys := NewRequesterSystem(requesterTestConfig(), link, st,
		&scriptedRanger{values: []float64{2000}}, &scriptedLight{}, &mockConsole{}, newMockAnnunciator(), l)
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if sys.blockID != "BLOCK_7" {
		t.Errorf("block id = %q", sys.blockID)
	}
	if sys.Destination() != "Noapara" {
		t.Errorf("destination = %q", sys.Destination())
	}
	if link.handlers[channel.RideStatusTopic("RU_001")] == nil {
		t.Error("status handler not registered")
	}
	if sys.State() != types.ReqStateIdle {
		t.Errorf("expected idle, got %s", sys.State())
	}
}

func TestRequesterResumesPersistedState(t *testing.T) {
	// Power loss mid-conversation comes back where it left off.
	l := logger.NewLogger(nil, logger.LogLevelNone)
	st := &mockRequesterStore{savedState: types.ReqStateWaitingForBackend}
	sys := NewRequesterSystem(requesterTestConfig(), newMockLink(), st,
		&scriptedRanger{values: []float64{2000}}, &scriptedLight{}, &mockConsole{}, newMockAnnunciator(), l)
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if sys.State() != types.ReqStateWaitingForBackend {
		t.Fatalf("expected to resume waiting-for-backend, got %s", sys.State())
	}
	// The resumed conversation still answers backend traffic.
	sys.handleStatus([]byte(`{"status":"accepted"}`))
	if sys.State() != types.ReqStateRideAccepted {
		t.Errorf("expected ride-accepted after resume, got %s", sys.State())
	}
}

// ===== Presence and privilege =====

func TestRequesterPresenceToPrivilegeDenial(t *testing.T) {
	// A steady 100cm echo and a dark light sensor: presence confirms, the
	// privilege check opens and immediately fails with no token.
	ranger := &scriptedRanger{values: []float64{100}}
	sys, _, _, _, ann := newTestRequesterSystem(t, ranger, &scriptedLight{})

	tickUntil(t, sys, 10, func() bool { return sys.State() == types.ReqStateError })

	if sys.errorCause != "No token detected" {
		t.Errorf("error cause = %q", sys.errorCause)
	}
	if !ann.played("error") {
		t.Error("error cue not played")
	}
}

// feedTokenIdentity plays one 4-bit identity frame into the decoder: a long
// start pulse, four data bits MSB-first with half-period gaps, a long stop.
func feedTokenIdentity(d *fusion.IdentityDecoder, token int, bit time.Duration) {
	at := time.Unix(2000, 0)
	emit := func(level bool, dur time.Duration) {
		d.Feed(level, at)
		at = at.Add(dur)
	}
	emit(true, 2*bit)
	emit(false, bit)
	for k := 3; k >= 0; k-- {
		emit((token>>k)&1 == 1, bit)
		emit(false, bit/2)
	}
	emit(true, 2*bit)
	emit(false, bit)
}

func TestRequesterTokenIdentityDisplayed(t *testing.T) {
	// The identity sequence is display-only: it surfaces even when the
	// frequency gate denies.
	ranger := &scriptedRanger{values: []float64{100}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})

	for i := 0; i < 6; i++ {
		sys.presence.Update()
	}
	if err := sys.machine.SetState(fsm.ReqPrivilegeCheck); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	feedTokenIdentity(sys.identity, 0b1010, 200*time.Millisecond)

	tickUntil(t, sys, 10, func() bool { return sys.State() == types.ReqStateError })

	id, ok := sys.TokenIdentity()
	if !ok {
		t.Fatal("announced identity not surfaced")
	}
	if id != 0b1010 {
		t.Errorf("identity = %04b, want 1010", id)
	}
}

func TestRequesterUserLeavesDuringDetection(t *testing.T) {
	// A long dwell keeps the kiosk in user-detected while the user walks off.
	cfg := requesterTestConfig()
	cfg.PresenceDwell = time.Minute
	l := logger.NewLogger(nil, logger.LogLevelNone)
	ranger := &scriptedRanger{values: []float64{100}}
	sys := NewRequesterSystem(cfg, newMockLink(), &mockRequesterStore{}, ranger,
		&scriptedLight{}, &mockConsole{}, newMockAnnunciator(), l)
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tickUntil(t, sys, 10, func() bool { return sys.State() == types.ReqStateUserDetected })

	// The echo jumps out of range; once the median follows, the kiosk
	// resets.
	ranger.values = []float64{2000}
	ranger.idx = 0
	tickUntil(t, sys, 10, func() bool { return sys.State() == types.ReqStateIdle })
}

func TestRequesterUserLeavesDuringConfirm(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})

	if err := sys.machine.SetState(fsm.ReqWaitingForConfirm); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	// Nobody is in the zone, so the confirm screen folds back to idle.
	tickUntil(t, sys, 10, func() bool { return sys.State() == types.ReqStateIdle })
}

// ===== Confirmation and delivery =====

// walkToConfirm puts the kiosk at the confirm screen with a present,
// verified user.
func walkToConfirm(t *testing.T, sys *RequesterSystem) {
	t.Helper()
	// Fill the presence filter so InZone holds during the confirm screen.
	for i := 0; i < 6; i++ {
		sys.presence.Update()
	}
	if !sys.presence.InZone() {
		t.Fatal("presence setup failed")
	}
	sys.verified = true
	if err := sys.machine.SetState(fsm.ReqWaitingForConfirm); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
}

func TestRequesterConfirmSendsRequest(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{100}}
	sys, link, _, console, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})
	walkToConfirm(t, sys)

	console.press("request", time.Now())
	sys.Tick(context.Background())

	msg := link.lastPublished(t)
	if msg.topic != channel.TopicRideRequest {
		t.Fatalf("expected request on %s, got %s", channel.TopicRideRequest, msg.topic)
	}
	var doc map[string]interface{}
	json.Unmarshal(msg.data, &doc)
	if doc["block_id"] != "CUET_CAMPUS" {
		t.Errorf("block_id = %v", doc["block_id"])
	}
	if doc["verified"] != true {
		t.Error("verified flag not carried")
	}
	if doc["destination"] != sys.Destination() {
		t.Errorf("destination = %v", doc["destination"])
	}
	if sys.State() != types.ReqStateWaitingForBackend {
		t.Errorf("expected waiting-for-backend, got %s", sys.State())
	}
}

func TestRequesterConfirmAbandonedByHold(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{100}}
	sys, _, _, _, ann := newTestRequesterSystem(t, ranger, &scriptedLight{})
	walkToConfirm(t, sys)

	sys.handleGesture(hardware.PressAction{Name: "request", Kind: hardware.PressHold})
	if sys.State() != types.ReqStateIdle {
		t.Errorf("expected idle after hold abandon, got %s", sys.State())
	}
	// A stuck press is a fault, not a quiet reset.
	if !ann.played("error") {
		t.Error("error cue not played for the abandoned confirm")
	}
}

func TestRequesterSendRetriesUntilLinkReturns(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{100}}
	sys, link, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})
	if err := sys.machine.SetState(fsm.ReqSendingRequest); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	link.publishErr = fmt.Errorf("broker gone")
	sys.Tick(context.Background())
	if sys.State() != types.ReqStateSendingRequest {
		t.Fatalf("expected to keep retrying, got %s", sys.State())
	}

	link.publishErr = nil
	sys.Tick(context.Background())
	if sys.State() != types.ReqStateWaitingForBackend {
		t.Errorf("expected waiting-for-backend after recovery, got %s", sys.State())
	}
}

// ===== Backend conversation =====

func TestRequesterBackendOfferThenAccepted(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, ann := newTestRequesterSystem(t, ranger, &scriptedLight{})
	if err := sys.machine.SetState(fsm.ReqWaitingForBackend); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	if err := sys.handleStatus([]byte(`{"status":"incoming_offer"}`)); err != nil {
		t.Fatalf("handleStatus failed: %v", err)
	}
	if sys.State() != types.ReqStateOfferIncoming {
		t.Fatalf("expected offer-incoming, got %s", sys.State())
	}
	if !ann.played("offer") {
		t.Error("offer cue not played")
	}

	if err := sys.handleStatus([]byte(`{"status":"accepted"}`)); err != nil {
		t.Fatalf("handleStatus failed: %v", err)
	}
	if sys.State() != types.ReqStateRideAccepted {
		t.Errorf("expected ride-accepted, got %s", sys.State())
	}
	if !ann.played("completed") {
		t.Error("accepted cue not played")
	}
}

func TestRequesterBackendRejected(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})
	sys.machine.SetState(fsm.ReqWaitingForBackend)

	sys.handleStatus([]byte(`{"status":"rejected"}`))
	if sys.State() != types.ReqStateRideRejected {
		t.Fatalf("expected ride-rejected, got %s", sys.State())
	}
	if sys.rejectCause != "No rickshaw available" {
		t.Errorf("reject cause = %q", sys.rejectCause)
	}
}

func TestRequesterBackendTimeoutStatus(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})
	sys.machine.SetState(fsm.ReqWaitingForBackend)

	sys.handleStatus([]byte(`{"status":"timeout"}`))
	if sys.State() != types.ReqStateRideRejected {
		t.Fatalf("expected ride-rejected, got %s", sys.State())
	}
	if sys.rejectCause != "Request timeout" {
		t.Errorf("reject cause = %q", sys.rejectCause)
	}
}

func TestRequesterOfferWindowExpiresToRejected(t *testing.T) {
	cfg := requesterTestConfig()
	cfg.OfferWindow = 50 * time.Millisecond
	cfg.ResultDwell = time.Minute // hold the rejected screen while we look
	l := logger.NewLogger(nil, logger.LogLevelNone)
	ann := newMockAnnunciator()
	sys := NewRequesterSystem(cfg, newMockLink(), &mockRequesterStore{},
		&scriptedRanger{values: []float64{2000}}, &scriptedLight{}, &mockConsole{}, ann, l)
	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sys.machine.SetState(fsm.ReqWaitingForBackend)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sys.State() != types.ReqStateRideRejected {
		time.Sleep(10 * time.Millisecond)
	}
	if sys.State() != types.ReqStateRideRejected {
		t.Fatalf("expected ride-rejected after offer window, got %s", sys.State())
	}
	if sys.rejectCause != "Request timeout" {
		t.Errorf("reject cause = %q", sys.rejectCause)
	}
	if !ann.played("error") {
		t.Error("rejection cue not played")
	}
}

func TestRequesterBackendErrorStatus(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})
	sys.machine.SetState(fsm.ReqWaitingForBackend)

	sys.handleStatus([]byte(`{"status":"error"}`))
	if sys.State() != types.ReqStateError {
		t.Fatalf("expected error state, got %s", sys.State())
	}
	if sys.errorCause != "Backend error" {
		t.Errorf("error cause = %q", sys.errorCause)
	}
}

func TestRequesterUnknownStatusRejected(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})

	if err := sys.handleStatus([]byte(`{"status":"levitating"}`)); err == nil {
		t.Error("expected error for unknown status")
	}
	if err := sys.handleStatus([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

// ===== Destination selection =====

func TestRequesterDestinationCycles(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, _, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})

	first := sys.Destination()
	for i := 0; i < len(sys.destinations); i++ {
		sys.handleGesture(hardware.PressAction{Name: "destination", Kind: hardware.PressShort})
	}
	if sys.Destination() != first {
		t.Errorf("full cycle should wrap, got %q", sys.Destination())
	}

	sys.handleGesture(hardware.PressAction{Name: "destination", Kind: hardware.PressShort})
	if sys.Destination() == first {
		t.Error("destination did not advance")
	}
}

// ===== State persistence and heartbeat =====

func TestRequesterStatePersistedOnTransitions(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{100}}
	sys, _, st, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})

	tickUntil(t, sys, 10, func() bool { return sys.State() == types.ReqStateError })

	if len(st.savedStates) == 0 {
		t.Fatal("no states persisted")
	}
	last := st.savedStates[len(st.savedStates)-1]
	if last != types.ReqStateError {
		t.Errorf("last persisted state = %s", last)
	}
}

func TestRequesterHeartbeatPayload(t *testing.T) {
	ranger := &scriptedRanger{values: []float64{2000}}
	sys, link, _, _, _ := newTestRequesterSystem(t, ranger, &scriptedLight{})

	var doc map[string]interface{}
	if err := json.Unmarshal(link.heartbeat(), &doc); err != nil {
		t.Fatalf("heartbeat not valid JSON: %v", err)
	}
	if doc["role"] != "requester" {
		t.Errorf("role = %v", doc["role"])
	}
	if doc["block_id"] != sys.blockID {
		t.Errorf("block_id = %v", doc["block_id"])
	}
	if doc["state"] != string(types.ReqStateIdle) {
		t.Errorf("state = %v", doc["state"])
	}
}
