package fsm

import (
	"time"

	"github.com/librescoot/librefsm"
)

// OperatorActions is implemented by the operator system to handle state
// entries and the few transition actions the lifecycle needs. Publish-gated
// transitions are not guarded here: the system performs the publish first
// and only sends the event when it succeeded.
type OperatorActions interface {
	EnterIdle(c *librefsm.Context) error
	EnterNotified(c *librefsm.Context) error
	EnterAccepted(c *librefsm.Context) error
	EnterEnrouteToPickup(c *librefsm.Context) error
	EnterArrivedPickup(c *librefsm.Context) error
	EnterRideActive(c *librefsm.Context) error
	EnterEnrouteToDrop(c *librefsm.Context) error
	EnterCompleted(c *librefsm.Context) error
	EnterOfflineError(c *librefsm.Context) error

	OnOfferExpired(c *librefsm.Context) error
	OnRideCancelled(c *librefsm.Context) error
}

// NewOperatorDefinition builds the operator lifecycle. The accept timeout and
// the completed dwell are declarative state timeouts; everything else is
// event-driven from the control loop.
func NewOperatorDefinition(actions OperatorActions, acceptTimeout, completedDwell time.Duration) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(OpOnline).
		State(OpIdle,
			librefsm.WithParent(OpOnline),
			librefsm.WithOnEnter(actions.EnterIdle),
		).
		State(OpNotified,
			librefsm.WithParent(OpOnline),
			librefsm.WithTimeout(acceptTimeout, EvOpAcceptTimeout, actions.OnOfferExpired),
			librefsm.WithOnEnter(actions.EnterNotified),
		).
		State(OpAccepted,
			librefsm.WithParent(OpOnline),
			librefsm.WithOnEnter(actions.EnterAccepted),
		).
		State(OpEnrouteToPickup,
			librefsm.WithParent(OpOnline),
			librefsm.WithOnEnter(actions.EnterEnrouteToPickup),
		).
		State(OpArrivedPickup,
			librefsm.WithParent(OpOnline),
			librefsm.WithOnEnter(actions.EnterArrivedPickup),
		).
		State(OpRideActive,
			librefsm.WithParent(OpOnline),
			librefsm.WithOnEnter(actions.EnterRideActive),
		).
		State(OpEnrouteToDrop,
			librefsm.WithParent(OpOnline),
			librefsm.WithOnEnter(actions.EnterEnrouteToDrop),
		).
		State(OpCompleted,
			librefsm.WithParent(OpOnline),
			librefsm.WithTimeout(completedDwell, EvOpCompletedDwell),
			librefsm.WithOnEnter(actions.EnterCompleted),
		).
		State(OpOfflineError,
			librefsm.WithOnEnter(actions.EnterOfflineError),
		).

		// Offer intake
		Transition(OpIdle, EvOpOfferReceived, OpNotified).
		Transition(OpNotified, EvOpAccepted, OpAccepted).
		Transition(OpNotified, EvOpRejected, OpIdle).
		Transition(OpNotified, EvOpAcceptTimeout, OpIdle).

		// Travel to pickup
		Transition(OpAccepted, EvOpDepartPickup, OpEnrouteToPickup).
		Transition(OpEnrouteToPickup, EvOpArrivedPickup, OpArrivedPickup).
		Transition(OpArrivedPickup, EvOpPickupConfirmed, OpRideActive).

		// Ride and drop-off
		Transition(OpRideActive, EvOpDepartDrop, OpEnrouteToDrop).
		Transition(OpEnrouteToDrop, EvOpDropConfirmed, OpCompleted).
		Transition(OpCompleted, EvOpCompletedDwell, OpIdle).

		// Operator cancel (hold gesture) from any in-progress state
		Transition(OpAccepted, EvOpCancelled, OpIdle).
		Transition(OpEnrouteToPickup, EvOpCancelled, OpIdle).
		Transition(OpArrivedPickup, EvOpCancelled, OpIdle).

		// Backend cancel ends the ride wherever it stands
		Transition(OpOnline, EvOpRideCancelled, OpIdle,
			librefsm.WithAction(actions.OnRideCancelled),
		).

		// Link loss interrupts everything; restoration starts over
		Transition(OpOnline, EvOpLinkLost, OpOfflineError).
		Transition(OpOfflineError, EvOpLinkRestored, OpIdle).

		Initial(OpIdle)
}
