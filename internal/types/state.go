package types

// OperatorState is the ride-lifecycle state of the mobile driver unit.
type OperatorState string

const (
	OpStateIdle            OperatorState = "idle"
	OpStateNotified        OperatorState = "notified"
	OpStateAccepted        OperatorState = "accepted"
	OpStateEnrouteToPickup OperatorState = "enroute-to-pickup"
	OpStateArrivedPickup   OperatorState = "arrived-at-pickup"
	OpStateRideActive      OperatorState = "ride-active"
	OpStateEnrouteToDrop   OperatorState = "enroute-to-drop"
	OpStateCompleted       OperatorState = "completed"
	OpStateOfflineError    OperatorState = "offline-error"
)

// RequesterState is the request-lifecycle state of the fixed pickup-point unit.
type RequesterState string

const (
	ReqStateIdle              RequesterState = "idle"
	ReqStateUserDetected      RequesterState = "user-detected"
	ReqStatePrivilegeCheck    RequesterState = "privilege-check"
	ReqStateWaitingForConfirm RequesterState = "waiting-for-confirm"
	ReqStateSendingRequest    RequesterState = "sending-request"
	ReqStateWaitingForBackend RequesterState = "waiting-for-backend"
	ReqStateOfferIncoming     RequesterState = "offer-incoming"
	ReqStateRideAccepted      RequesterState = "ride-accepted"
	ReqStateRideRejected      RequesterState = "ride-rejected"
	ReqStateError             RequesterState = "error"
)

// BackendStatus is the decoded status field of an inbound backend update.
type BackendStatus string

const (
	StatusNone          BackendStatus = ""
	StatusIncomingOffer BackendStatus = "incoming_offer"
	StatusAccepted      BackendStatus = "accepted"
	StatusRejected      BackendStatus = "rejected"
	StatusTimeout       BackendStatus = "timeout"
	StatusError         BackendStatus = "error"
)

// ParseBackendStatus maps the wire status string to a BackendStatus. The "offer"
// alias is accepted for compatibility with older backend builds.
func ParseBackendStatus(s string) (BackendStatus, bool) {
	switch s {
	case "incoming_offer", "offer":
		return StatusIncomingOffer, true
	case "accepted":
		return StatusAccepted, true
	case "rejected":
		return StatusRejected, true
	case "timeout":
		return StatusTimeout, true
	case "error":
		return StatusError, true
	default:
		return StatusNone, false
	}
}
