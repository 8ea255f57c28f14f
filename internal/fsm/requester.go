package fsm

import (
	"time"

	"github.com/librescoot/librefsm"
)

// RequesterActions is implemented by the requester system. Entry actions
// drive the kiosk display and indicators; OnSendFailed records the error
// cause and OnOfferTimeout the rejection cause before the machine moves on.
type RequesterActions interface {
	EnterIdle(c *librefsm.Context) error
	EnterUserDetected(c *librefsm.Context) error
	EnterPrivilegeCheck(c *librefsm.Context) error
	EnterWaitingForConfirm(c *librefsm.Context) error
	EnterSendingRequest(c *librefsm.Context) error
	EnterWaitingForBackend(c *librefsm.Context) error
	EnterOfferIncoming(c *librefsm.Context) error
	EnterRideAccepted(c *librefsm.Context) error
	EnterRideRejected(c *librefsm.Context) error
	EnterError(c *librefsm.Context) error

	OnSendFailed(c *librefsm.Context) error
	OnOfferTimeout(c *librefsm.Context) error
}

// RequesterTimeouts collects the dwell and timeout durations of the kiosk
// lifecycle, so configuration reaches the definition in one piece.
type RequesterTimeouts struct {
	Confirm     time.Duration // waiting-for-confirm before giving up
	SendRetry   time.Duration // sending-request retry window
	OfferWindow time.Duration // backend silence tolerated before rejecting
	ResultDwell time.Duration // accepted/rejected display time
	ErrorDwell  time.Duration // error display time
}

func NewRequesterDefinition(actions RequesterActions, t RequesterTimeouts) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(ReqIdle,
			librefsm.WithOnEnter(actions.EnterIdle),
		).
		State(ReqUserDetected,
			librefsm.WithOnEnter(actions.EnterUserDetected),
		).
		State(ReqPrivilegeCheck,
			librefsm.WithOnEnter(actions.EnterPrivilegeCheck),
		).
		State(ReqWaitingForConfirm,
			librefsm.WithTimeout(t.Confirm, EvReqConfirmTimeout),
			librefsm.WithOnEnter(actions.EnterWaitingForConfirm),
		).
		State(ReqSendingRequest,
			librefsm.WithTimeout(t.SendRetry, EvReqSendFailed, actions.OnSendFailed),
			librefsm.WithOnEnter(actions.EnterSendingRequest),
		).
		State(ReqWaitingForBackend,
			librefsm.WithTimeout(t.OfferWindow, EvReqOfferTimeout, actions.OnOfferTimeout),
			librefsm.WithOnEnter(actions.EnterWaitingForBackend),
		).
		State(ReqOfferIncoming,
			librefsm.WithTimeout(t.OfferWindow, EvReqOfferTimeout, actions.OnOfferTimeout),
			librefsm.WithOnEnter(actions.EnterOfferIncoming),
		).
		State(ReqRideAccepted,
			librefsm.WithTimeout(t.ResultDwell, EvReqResultDwell),
			librefsm.WithOnEnter(actions.EnterRideAccepted),
		).
		State(ReqRideRejected,
			librefsm.WithTimeout(t.ResultDwell, EvReqResultDwell),
			librefsm.WithOnEnter(actions.EnterRideRejected),
		).
		State(ReqError,
			librefsm.WithTimeout(t.ErrorDwell, EvReqErrorDwell),
			librefsm.WithOnEnter(actions.EnterError),
		).

		// Approach and verification
		Transition(ReqIdle, EvReqUserDetected, ReqUserDetected).
		Transition(ReqUserDetected, EvReqBeginPrivilege, ReqPrivilegeCheck).
		Transition(ReqUserDetected, EvReqUserLeft, ReqIdle).
		Transition(ReqPrivilegeCheck, EvReqPrivilegeGranted, ReqWaitingForConfirm).
		Transition(ReqPrivilegeCheck, EvReqPrivilegeDenied, ReqError).
		Transition(ReqPrivilegeCheck, EvReqUserLeft, ReqIdle).

		// Confirmation
		Transition(ReqWaitingForConfirm, EvReqConfirmPressed, ReqSendingRequest).
		Transition(ReqWaitingForConfirm, EvReqConfirmTimeout, ReqIdle).
		Transition(ReqWaitingForConfirm, EvReqUserLeft, ReqIdle).

		// Delivery
		Transition(ReqSendingRequest, EvReqRequestSent, ReqWaitingForBackend).
		Transition(ReqSendingRequest, EvReqSendFailed, ReqError).

		// Backend outcome
		Transition(ReqWaitingForBackend, EvReqOfferIncoming, ReqOfferIncoming).
		Transition(ReqWaitingForBackend, EvReqAccepted, ReqRideAccepted).
		Transition(ReqWaitingForBackend, EvReqRejected, ReqRideRejected).
		Transition(ReqWaitingForBackend, EvReqBackendError, ReqError).
		Transition(ReqWaitingForBackend, EvReqOfferTimeout, ReqRideRejected).
		Transition(ReqOfferIncoming, EvReqAccepted, ReqRideAccepted).
		Transition(ReqOfferIncoming, EvReqRejected, ReqRideRejected).
		Transition(ReqOfferIncoming, EvReqBackendError, ReqError).
		Transition(ReqOfferIncoming, EvReqOfferTimeout, ReqRideRejected).

		// Results and errors dwell, then reset
		Transition(ReqRideAccepted, EvReqResultDwell, ReqIdle).
		Transition(ReqRideRejected, EvReqResultDwell, ReqIdle).
		Transition(ReqError, EvReqErrorDwell, ReqIdle).

		Initial(ReqIdle)
}
