package core

import (
	"github.com/librescoot/librefsm"
)

// Lifecycle entry actions. These only drive feedback and bookkeeping; the
// decisions that move the machine live in the Tick path.

func (o *OperatorSystem) EnterIdle(c *librefsm.Context) error {
	o.clearRide()
	if o.ann != nil {
		o.ann.PlayCue("clear")
	}
	return nil
}

func (o *OperatorSystem) EnterNotified(c *librefsm.Context) error {
	if o.ann != nil {
		o.ann.PlayCue("offer")
	}
	return nil
}

func (o *OperatorSystem) EnterAccepted(c *librefsm.Context) error {
	if o.ann != nil {
		o.ann.PlayCue("accepted")
	}
	return nil
}

func (o *OperatorSystem) EnterEnrouteToPickup(c *librefsm.Context) error {
	if o.offer != nil {
		o.log.Infof("enroute to pickup for ride %s", o.offer.RideID)
	}
	return nil
}

func (o *OperatorSystem) EnterArrivedPickup(c *librefsm.Context) error {
	if o.ann != nil {
		o.ann.PlayCue("offer")
	}
	return nil
}

func (o *OperatorSystem) EnterRideActive(c *librefsm.Context) error {
	if o.ann != nil {
		o.ann.Set("active", true)
	}
	return nil
}

func (o *OperatorSystem) EnterEnrouteToDrop(c *librefsm.Context) error {
	return nil
}

func (o *OperatorSystem) EnterCompleted(c *librefsm.Context) error {
	if o.ann != nil {
		o.ann.PlayCue("completed")
	}
	return nil
}

func (o *OperatorSystem) EnterOfflineError(c *librefsm.Context) error {
	o.log.Warnf("link lost, lifecycle suspended")
	if o.ann != nil {
		o.ann.PlayCue("error")
	}
	return nil
}

func (o *OperatorSystem) OnOfferExpired(c *librefsm.Context) error {
	if o.offer != nil {
		o.log.Infof("offer %s expired unanswered", o.offer.RideID)
	}
	o.clearRide()
	return nil
}

func (o *OperatorSystem) OnRideCancelled(c *librefsm.Context) error {
	o.clearRide()
	o.cueError()
	return nil
}
