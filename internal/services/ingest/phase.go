package ingest

import (
	"context"
	"errors"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/looplab/fsm"
)

// Cycle phases.
const (
	PhaseIdle           = "idle"
	PhaseAuthenticating = "authenticating"
	PhaseFetching       = "fetching"
	PhaseTransforming   = "transforming"
	PhaseStoring        = "storing"
	PhaseSucceeded      = "succeeded"
	PhaseFailed         = "failed"
)

const (
	EventAuthenticate = "authenticate"
	EventFetch        = "fetch"
	EventTransform    = "transform"
	EventStore        = "store"
	EventSucceed      = "succeed"
	EventFail         = "fail"
	EventReset        = "reset"
)

// newPhaseMachine builds the per-cycle state machine. A retry leaves Failed
// either through authenticate (nothing fetched yet) or straight through store
// (fetched data is reused).
func newPhaseMachine(logger log.Logger) *fsm.FSM {
	events := fsm.Events{
		{Name: EventAuthenticate, Src: []string{PhaseIdle, PhaseFailed}, Dst: PhaseAuthenticating},
		{Name: EventFetch, Src: []string{PhaseAuthenticating}, Dst: PhaseFetching},
		{Name: EventTransform, Src: []string{PhaseFetching}, Dst: PhaseTransforming},
		{Name: EventStore, Src: []string{PhaseTransforming, PhaseFailed}, Dst: PhaseStoring},
		{Name: EventSucceed, Src: []string{PhaseTransforming, PhaseStoring}, Dst: PhaseSucceeded},
		{Name: EventFail, Src: []string{PhaseAuthenticating, PhaseFetching, PhaseTransforming, PhaseStoring}, Dst: PhaseFailed},
		{Name: EventReset, Src: []string{PhaseSucceeded, PhaseFailed}, Dst: PhaseIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			logger.Debug("cycle phase", "event", e.Event, "from", e.Src, "to", e.Dst)
		},
	}

	return fsm.NewFSM(PhaseIdle, events, callbacks)
}

func isFsmRealError(err error) bool {
	if err == nil {
		return false
	}
	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError
	if errors.As(err, &noTransition) || errors.As(err, &canceled) {
		return false
	}
	return true
}
