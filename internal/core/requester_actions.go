package core

import (
	"github.com/librescoot/librefsm"
)

// Request-lifecycle entry actions. Feedback only; the decision logic runs in
// the Tick path and the backend status handler.

func (r *RequesterSystem) EnterIdle(c *librefsm.Context) error {
	r.presence.Reset()
	r.privilege.Reset()
	r.identity.Reset()
	r.verified = false
	r.tokenKnown = false
	r.rejectCause = ""
	r.errorCause = ""
	if r.ann != nil {
		r.ann.PlayCue("clear")
	}
	return nil
}

func (r *RequesterSystem) EnterUserDetected(c *librefsm.Context) error {
	r.log.Infof("user detected at %.0f cm", r.presence.FilteredDistance())
	return nil
}

func (r *RequesterSystem) EnterPrivilegeCheck(c *librefsm.Context) error {
	r.privilege.Start()
	return nil
}

func (r *RequesterSystem) EnterWaitingForConfirm(c *librefsm.Context) error {
	if r.ann != nil {
		r.ann.PlayCue("accepted")
	}
	return nil
}

func (r *RequesterSystem) EnterSendingRequest(c *librefsm.Context) error {
	return nil
}

func (r *RequesterSystem) EnterWaitingForBackend(c *librefsm.Context) error {
	return nil
}

func (r *RequesterSystem) EnterOfferIncoming(c *librefsm.Context) error {
	if r.ann != nil {
		r.ann.PlayCue("offer")
	}
	return nil
}

func (r *RequesterSystem) EnterRideAccepted(c *librefsm.Context) error {
	r.log.Infof("ride accepted, rickshaw on its way")
	if r.ann != nil {
		r.ann.PlayCue("completed")
	}
	return nil
}

func (r *RequesterSystem) EnterRideRejected(c *librefsm.Context) error {
	r.log.Infof("ride rejected: %s", r.rejectCause)
	if r.ann != nil {
		r.ann.PlayCue("error")
	}
	return nil
}

func (r *RequesterSystem) EnterError(c *librefsm.Context) error {
	r.log.Warnf("request failed: %s", r.errorCause)
	if r.ann != nil {
		r.ann.PlayCue("error")
	}
	return nil
}

func (r *RequesterSystem) OnSendFailed(c *librefsm.Context) error {
	r.errorCause = "Send failed"
	return nil
}

func (r *RequesterSystem) OnOfferTimeout(c *librefsm.Context) error {
	r.rejectCause = "Request timeout"
	return nil
}
