package fsm

import "github.com/librescoot/librefsm"

// Requester states
const (
	ReqIdle              librefsm.StateID = "idle"
	ReqUserDetected      librefsm.StateID = "user-detected"
	ReqPrivilegeCheck    librefsm.StateID = "privilege-check"
	ReqWaitingForConfirm librefsm.StateID = "waiting-for-confirm"
	ReqSendingRequest    librefsm.StateID = "sending-request"
	ReqWaitingForBackend librefsm.StateID = "waiting-for-backend"
	ReqOfferIncoming     librefsm.StateID = "offer-incoming"
	ReqRideAccepted      librefsm.StateID = "ride-accepted"
	ReqRideRejected      librefsm.StateID = "ride-rejected"
	ReqError             librefsm.StateID = "error"
)

// Requester events
const (
	// Presence
	EvReqUserDetected librefsm.EventID = "user-detected"
	EvReqUserLeft     librefsm.EventID = "user-left"

	// Privilege verification
	EvReqBeginPrivilege   librefsm.EventID = "begin-privilege"
	EvReqPrivilegeGranted librefsm.EventID = "privilege-granted"
	EvReqPrivilegeDenied  librefsm.EventID = "privilege-denied"

	// Kiosk buttons
	EvReqConfirmPressed librefsm.EventID = "confirm-pressed"

	// Request delivery
	EvReqRequestSent librefsm.EventID = "request-sent"
	EvReqSendFailed  librefsm.EventID = "send-failed"

	// Backend status updates
	EvReqOfferIncoming librefsm.EventID = "offer-incoming"
	EvReqAccepted      librefsm.EventID = "ride-accepted"
	EvReqRejected      librefsm.EventID = "ride-rejected"
	EvReqBackendError  librefsm.EventID = "backend-error"

	// Timers
	EvReqConfirmTimeout librefsm.EventID = "confirm-timeout"
	EvReqOfferTimeout   librefsm.EventID = "offer-timeout"
	EvReqResultDwell    librefsm.EventID = "result-dwell"
	EvReqErrorDwell     librefsm.EventID = "error-dwell"
)
