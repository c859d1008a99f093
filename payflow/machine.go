package payflow

import (
	"context"
	"sync"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
)

// Machine runs the payment lifecycle for one consumer, one content item at
// a time. All state changes go through Transition.
type Machine struct {
	gateway Gateway
	method  PaymentMethod
	log     logger.Logger

	mu        sync.Mutex
	state     State
	observers []func(State)
	cancel    context.CancelFunc
}

type Option func(*Machine)

func WithLogger(l logger.Logger) Option {
	return func(m *Machine) { m.log = logger.Component(l, "payflow") }
}

// WithObserver registers f for every state change.
func WithObserver(f func(State)) Option {
	return func(m *Machine) { m.observers = append(m.observers, f) }
}

func NewMachine(gateway Gateway, method PaymentMethod, opts ...Option) *Machine {
	m := &Machine{
		gateway: gateway,
		method:  method,
		log:     logger.NoopLogger{},
		state:   State{Phase: PhaseIdle},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnTransition registers f for every later state change.
func (m *Machine) OnTransition(f func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, f)
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) apply(ev Event) (State, error) {
	m.mu.Lock()
	next, err := Transition(m.state, ev)
	if err != nil {
		m.mu.Unlock()
		return next, err
	}
	prev := m.state.Phase
	m.state = next
	observers := append(([]func(State))(nil), m.observers...)
	m.mu.Unlock()

	m.log.Debug("payflow transition", map[string]any{"from": prev, "to": next.Phase, "event": ev.Type})
	for _, f := range observers {
		f(next)
	}
	return next, nil
}

// fail moves to the error phase. paidTx is the hash of a payment that went
// through, if the failing step reported one.
func (m *Machine) fail(err error, paidTx string) (State, error) {
	fe := Classify(err, m.method.Network())
	ev := Event{Type: EventFailed, Err: fe}
	if m.State().Method == types.MethodFacilitator {
		ev.SettledTxHash = paidTx
	} else {
		ev.TxHash = paidTx
	}
	s, terr := m.apply(ev)
	if terr != nil {
		return s, terr
	}
	m.log.Warn("payment flow failed", map[string]any{"phase": s.Phase, "message": fe.Message, "paidNotGranted": s.PaidNotGranted})
	return s, fe
}

// Run pays for contentID unless the consumer already has access. It returns
// the final state; on failure the error is a *FlowError.
func (m *Machine) Run(ctx context.Context, contentID string) (State, error) {
	checkCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	if _, err := m.apply(Event{Type: EventStart, ContentID: contentID}); err != nil {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		cancel()
		return m.State(), err
	}

	key, required, err := m.gateway.CheckAccess(checkCtx, contentID)

	m.mu.Lock()
	m.cancel = nil
	cancelled := m.state.Phase == PhaseIdle
	m.mu.Unlock()
	cancel()

	if cancelled {
		return m.State(), ErrCancelled
	}
	if err != nil {
		return m.fail(err, "")
	}
	if key != nil {
		return m.apply(Event{Type: EventAccessGranted, Key: key.Key, ContentBlobID: key.ContentBlobID})
	}

	reqs, err := m.method.Requirement(required)
	if err != nil {
		return m.fail(err, "")
	}
	if _, err := m.apply(Event{Type: EventPaymentRequired, Method: m.method.Method(), Requirements: reqs}); err != nil {
		return m.State(), err
	}

	// from here on a payment may be in flight and the run is not cancellable
	proof, err := m.method.ObtainProof(ctx, reqs)
	if err != nil {
		return m.fail(err, "")
	}
	ready := Event{Type: EventProofReady}
	if proof.Direct != nil {
		ready.TxHash = proof.Direct.TxHash
	}
	if _, err := m.apply(ready); err != nil {
		return m.State(), err
	}

	if err := m.method.Confirm(ctx, proof, reqs); err != nil {
		return m.fail(err, "")
	}
	s, err := m.apply(Event{Type: EventProofConfirmed})
	if err != nil {
		return s, err
	}

	resp, err := m.method.Grant(ctx, contentID, proof)
	if err != nil {
		return m.fail(err, paidTxHash(err))
	}
	if s.Phase == PhaseSettling {
		if _, err := m.apply(Event{Type: EventSettled, SettledTxHash: resp.SettledTxHash}); err != nil {
			return m.State(), err
		}
	}
	return m.apply(Event{
		Type:          EventGranted,
		Key:           resp.Key,
		ContentBlobID: resp.ContentBlobID,
		GrantTxHash:   resp.GrantTxHash,
		SettledTxHash: resp.SettledTxHash,
	})
}

// Cancel stops a run that has not asked for a signature yet.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.state.Phase.Broadcast() {
		m.mu.Unlock()
		return ErrNotCancellable
	}
	cancel := m.cancel
	m.mu.Unlock()

	if _, err := m.apply(Event{Type: EventCancel}); err != nil {
		return err
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Reset returns a finished machine to idle.
func (m *Machine) Reset() error {
	_, err := m.apply(Event{Type: EventReset})
	return err
}
