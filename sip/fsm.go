package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

// RegistrationState is a state of the registration family.
type RegistrationState string

const (
	RegistrationStateUnregistered RegistrationState = "unregistered"
	RegistrationStateRegisterSent RegistrationState = "register_sent"
	RegistrationStateChallenged   RegistrationState = "auth_challenged"
	RegistrationStateRegistered   RegistrationState = "registered"
	// RegistrationStateFailed is entered on a final non-2xx response
	// or an unanswerable challenge before the first successful registration.
	RegistrationStateFailed RegistrationState = "registration_failed"
	// RegistrationStateLost is entered on a final non-2xx response
	// or an unanswerable challenge to a refresh after a successful registration.
	RegistrationStateLost RegistrationState = "registration_lost"
)

// RequestState is a state of the MESSAGE or INVITE family.
type RequestState string

const (
	RequestStateIdle       RequestState = "idle"
	RequestStateSent       RequestState = "request_sent"
	RequestStateChallenged RequestState = "auth_challenged"
	RequestStateCompleted  RequestState = "completed"
	RequestStateFailed     RequestState = "failed"
	// RequestStateAckSent is the terminal state of a successful INVITE.
	RequestStateAckSent RequestState = "ack_sent"
)

type fsmEvent string

const (
	evtSend          fsmEvent = "send"
	evtRecv1xx       fsmEvent = "recv_1xx"
	evtRecvChallenge fsmEvent = "recv_challenge"
	evtRecv2xx       fsmEvent = "recv_2xx"
	evtRecvFailure   fsmEvent = "recv_failure"
	evtFail          fsmEvent = "fail"
	evtAck           fsmEvent = "ack"
)

func eventFromStatus(code int) fsmEvent {
	switch {
	case code >= 100 && code < 200:
		return evtRecv1xx
	case IsChallenge(code):
		return evtRecvChallenge
	case code >= 200 && code < 300:
		return evtRecv2xx
	default:
		return evtRecvFailure
	}
}

type familyFSM struct {
	name string
	sm   *stateless.StateMachine
	log  *slog.Logger
}

func newFamilyFSM(name string, start any, log *slog.Logger) *familyFSM {
	f := &familyFSM{
		name: name,
		sm:   stateless.NewStateMachine(start),
		log:  log.With(slog.String("family", name)),
	}
	f.sm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		f.log.LogAttrs(ctx, slog.LevelDebug, "state changed",
			slog.Any("from", tr.Source),
			slog.Any("to", tr.Destination),
			slog.Any("event", tr.Trigger),
		)
	})
	f.sm.OnUnhandledTrigger(func(ctx context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return errtrace.Wrap(fmt.Errorf("event %q is not permitted in state %q", trigger, state))
	})
	return f
}

// fire applies evt, unhandled events are logged and otherwise ignored.
func (f *familyFSM) fire(ctx context.Context, evt fsmEvent) {
	if err := f.sm.FireCtx(ctx, evt); err != nil {
		f.log.LogAttrs(ctx, slog.LevelDebug, "event ignored",
			slog.Any("event", evt),
			slog.Any("state", f.sm.MustState()),
			slog.Any("error", err),
		)
	}
}

type registrationFSM struct {
	*familyFSM
	// everRegistered selects between lost and failed terminal states.
	everRegistered atomic.Bool
}

func newRegistrationFSM(log *slog.Logger) *registrationFSM {
	f := &registrationFSM{familyFSM: newFamilyFSM("registration", RegistrationStateUnregistered, log)}

	wasRegistered := func(context.Context, ...any) bool { return f.everRegistered.Load() }
	notRegistered := func(context.Context, ...any) bool { return !f.everRegistered.Load() }

	f.sm.Configure(RegistrationStateUnregistered).
		Permit(evtSend, RegistrationStateRegisterSent).
		Permit(evtFail, RegistrationStateFailed)

	f.sm.Configure(RegistrationStateRegisterSent).
		PermitReentry(evtSend).
		Ignore(evtRecv1xx).
		Permit(evtRecvChallenge, RegistrationStateChallenged).
		Permit(evtRecv2xx, RegistrationStateRegistered).
		Permit(evtRecvFailure, RegistrationStateLost, wasRegistered).
		Permit(evtRecvFailure, RegistrationStateFailed, notRegistered).
		Permit(evtFail, RegistrationStateLost, wasRegistered).
		Permit(evtFail, RegistrationStateFailed, notRegistered)

	f.sm.Configure(RegistrationStateChallenged).
		Permit(evtSend, RegistrationStateRegisterSent).
		Permit(evtFail, RegistrationStateLost, wasRegistered).
		Permit(evtFail, RegistrationStateFailed, notRegistered)

	f.sm.Configure(RegistrationStateRegistered).
		OnEntry(func(context.Context, ...any) error {
			f.everRegistered.Store(true)
			return nil
		}).
		Permit(evtSend, RegistrationStateRegisterSent).
		Ignore(evtRecv1xx).
		Ignore(evtRecv2xx).
		Permit(evtFail, RegistrationStateLost)

	for _, st := range []RegistrationState{RegistrationStateFailed, RegistrationStateLost} {
		f.sm.Configure(st).
			Permit(evtSend, RegistrationStateRegisterSent).
			Ignore(evtRecv1xx).
			Ignore(evtRecvFailure).
			Ignore(evtFail)
	}
	return f
}

func (f *registrationFSM) State() RegistrationState {
	return f.sm.MustState().(RegistrationState) //nolint:forcetypeassert
}

// Registered reports whether a REGISTER was accepted and no later one was rejected.
// Refreshes in flight keep it true.
func (f *registrationFSM) Registered() bool {
	if !f.everRegistered.Load() {
		return false
	}
	switch f.State() {
	case RegistrationStateLost, RegistrationStateFailed:
		return false
	default:
		return true
	}
}

type requestFSM struct {
	*familyFSM
}

func newRequestFSM(method RequestMethod, log *slog.Logger) *requestFSM {
	f := &requestFSM{newFamilyFSM(string(method), RequestStateIdle, log)}

	f.sm.Configure(RequestStateIdle).
		Permit(evtSend, RequestStateSent).
		Permit(evtFail, RequestStateFailed)

	f.sm.Configure(RequestStateSent).
		Ignore(evtRecv1xx).
		Permit(evtRecvChallenge, RequestStateChallenged).
		Permit(evtRecv2xx, RequestStateCompleted).
		Permit(evtRecvFailure, RequestStateFailed).
		Permit(evtFail, RequestStateFailed)

	f.sm.Configure(RequestStateChallenged).
		Permit(evtSend, RequestStateSent).
		Permit(evtFail, RequestStateFailed)

	completed := f.sm.Configure(RequestStateCompleted).
		Ignore(evtRecv1xx).
		Ignore(evtRecv2xx).
		Permit(evtFail, RequestStateFailed)
	if method.Equal(RequestMethodInvite) {
		completed.Permit(evtAck, RequestStateAckSent)

		f.sm.Configure(RequestStateAckSent).
			Ignore(evtRecv1xx).
			Ignore(evtRecv2xx)
	}

	f.sm.Configure(RequestStateFailed).
		Ignore(evtRecv1xx).
		Ignore(evtRecv2xx).
		Ignore(evtRecvFailure).
		Ignore(evtFail)
	return f
}

func (f *requestFSM) State() RequestState {
	return f.sm.MustState().(RequestState) //nolint:forcetypeassert
}
