package fsm

import "github.com/librescoot/librefsm"

// Operator states. Everything except the offline error state nests under the
// online parent so a link loss interrupts the lifecycle from anywhere.
const (
	OpOnline librefsm.StateID = "online"

	OpIdle            librefsm.StateID = "idle"
	OpNotified        librefsm.StateID = "notified"
	OpAccepted        librefsm.StateID = "accepted"
	OpEnrouteToPickup librefsm.StateID = "enroute-to-pickup"
	OpArrivedPickup   librefsm.StateID = "arrived-at-pickup"
	OpRideActive      librefsm.StateID = "ride-active"
	OpEnrouteToDrop   librefsm.StateID = "enroute-to-drop"
	OpCompleted       librefsm.StateID = "completed"
	OpOfflineError    librefsm.StateID = "offline-error"
)

// Operator events
const (
	// Backend traffic
	EvOpOfferReceived librefsm.EventID = "offer-received"
	EvOpRideCancelled librefsm.EventID = "ride-cancelled"

	// Console gestures (sent after the gating publish succeeded)
	EvOpAccepted        librefsm.EventID = "accepted"
	EvOpRejected        librefsm.EventID = "rejected"
	EvOpPickupConfirmed librefsm.EventID = "pickup-confirmed"
	EvOpDropConfirmed   librefsm.EventID = "drop-confirmed"
	EvOpCancelled       librefsm.EventID = "cancelled"

	// Movement milestones from positioning
	EvOpDepartPickup  librefsm.EventID = "depart-pickup"
	EvOpArrivedPickup librefsm.EventID = "arrived-pickup"
	EvOpDepartDrop    librefsm.EventID = "depart-drop"

	// Timers
	EvOpAcceptTimeout  librefsm.EventID = "accept-timeout"
	EvOpCompletedDwell librefsm.EventID = "completed-dwell"

	// Link state
	EvOpLinkLost     librefsm.EventID = "link-lost"
	EvOpLinkRestored librefsm.EventID = "link-restored"
)
