package payflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/types"
)

func run(t *testing.T, s State, events ...Event) State {
	t.Helper()
	for _, ev := range events {
		var err error
		s, err = Transition(s, ev)
		require.NoError(t, err, "event %s", ev.Type)
	}
	return s
}

func TestTransitionDirectPath(t *testing.T) {
	reqs := &types.PaymentRequirements{Scheme: "direct"}
	s := run(t, State{Phase: PhaseIdle},
		Event{Type: EventStart, ContentID: "1"},
		Event{Type: EventPaymentRequired, Method: types.MethodDirect, Requirements: reqs},
		Event{Type: EventProofReady, TxHash: "0xabc"},
	)
	assert.Equal(t, PhaseConfirming, s.Phase)
	assert.Equal(t, "0xabc", s.TxHash)

	s = run(t, s,
		Event{Type: EventProofConfirmed},
		Event{Type: EventGranted, Key: "k", ContentBlobID: "bafy", GrantTxHash: "0xg"},
	)
	assert.Equal(t, PhaseSuccess, s.Phase)
	assert.Equal(t, "k", s.Key)
	assert.Equal(t, "0xg", s.GrantTxHash)
	assert.Equal(t, "1", s.ContentID)
}

func TestTransitionFacilitatorPath(t *testing.T) {
	reqs := &types.PaymentRequirements{Scheme: "exact"}
	phases := []Phase{}
	s := State{Phase: PhaseIdle}
	for _, ev := range []Event{
		{Type: EventStart, ContentID: "1"},
		{Type: EventPaymentRequired, Method: types.MethodFacilitator, Requirements: reqs},
		{Type: EventProofReady},
		{Type: EventProofConfirmed},
		{Type: EventSettled, SettledTxHash: "0xs"},
		{Type: EventGranted, Key: "k"},
	} {
		var err error
		s, err = Transition(s, ev)
		require.NoError(t, err)
		phases = append(phases, s.Phase)
	}
	assert.Equal(t, []Phase{PhaseChecking, PhaseSigning, PhaseVerifying, PhaseSettling, PhaseGranting, PhaseSuccess}, phases)
	assert.Equal(t, "0xs", s.SettledTxHash)
}

func TestTransitionRejectsSkips(t *testing.T) {
	reqs := &types.PaymentRequirements{}
	cases := []struct {
		name  string
		state State
		event Event
	}{
		{"pay without check", State{Phase: PhaseIdle}, Event{Type: EventPaymentRequired, Method: types.MethodDirect, Requirements: reqs}},
		{"grant from checking", State{Phase: PhaseChecking}, Event{Type: EventGranted}},
		{"confirm before signing", State{Phase: PhaseSigning, Method: types.MethodDirect}, Event{Type: EventProofConfirmed}},
		{"settle on direct path", State{Phase: PhaseConfirming, Method: types.MethodDirect}, Event{Type: EventSettled}},
		{"direct proof without hash", State{Phase: PhaseSigning, Method: types.MethodDirect}, Event{Type: EventProofReady}},
		{"start twice", State{Phase: PhaseChecking}, Event{Type: EventStart, ContentID: "1"}},
		{"start without content", State{Phase: PhaseIdle}, Event{Type: EventStart}},
		{"fail from idle", State{Phase: PhaseIdle}, Event{Type: EventFailed}},
		{"fail after success", State{Phase: PhaseSuccess}, Event{Type: EventFailed}},
		{"unknown", State{Phase: PhaseIdle}, Event{Type: "bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Transition(tc.state, tc.event)
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.state, s)
		})
	}
}

func TestResetOnlyFromTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseIdle, PhaseChecking, PhaseSigning, PhaseConfirming, PhaseVerifying, PhaseSettling, PhaseGranting} {
		_, err := Transition(State{Phase: p}, Event{Type: EventReset})
		assert.Error(t, err, p)
	}
	for _, p := range []Phase{PhaseSuccess, PhaseError} {
		s, err := Transition(State{Phase: p, ContentID: "1", Key: "k"}, Event{Type: EventReset})
		require.NoError(t, err)
		assert.Equal(t, State{Phase: PhaseIdle}, s)
	}
}

func TestCancelOnlyBeforeSigning(t *testing.T) {
	for _, p := range []Phase{PhaseIdle, PhaseChecking} {
		s, err := Transition(State{Phase: p}, Event{Type: EventCancel})
		require.NoError(t, err)
		assert.Equal(t, PhaseIdle, s.Phase)
	}
	for _, p := range []Phase{PhaseSigning, PhaseConfirming, PhaseVerifying, PhaseSettling, PhaseGranting, PhaseSuccess, PhaseError} {
		_, err := Transition(State{Phase: p}, Event{Type: EventCancel})
		assert.Error(t, err, p)
	}
}

func TestFailureAfterPaymentIsFlagged(t *testing.T) {
	s, err := Transition(State{Phase: PhaseGranting, Method: types.MethodDirect, TxHash: "0xt"},
		Event{Type: EventFailed, Err: &FlowError{Message: "x"}})
	require.NoError(t, err)
	assert.Equal(t, PhaseError, s.Phase)
	assert.True(t, s.PaidNotGranted)
	assert.Equal(t, "0xt", s.TxHash)

	s, err = Transition(State{Phase: PhaseSettling, Method: types.MethodFacilitator},
		Event{Type: EventFailed, SettledTxHash: "0xs"})
	require.NoError(t, err)
	assert.True(t, s.PaidNotGranted)
	assert.Equal(t, "0xs", s.SettledTxHash)
	require.NotNil(t, s.Err)

	s, err = Transition(State{Phase: PhaseSigning, Method: types.MethodDirect}, Event{Type: EventFailed})
	require.NoError(t, err)
	assert.False(t, s.PaidNotGranted)
}
