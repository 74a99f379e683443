package protocol

import "github.com/cuemby/gaiadb/pkg/types"

// State is a session's position in the protocol state machine (§4.5).
type State uint8

const (
	StateDisconnected State = iota
	StateConnected
	StateTxnInProgress
	StateTxnCommitting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateTxnInProgress:
		return "TXN_IN_PROGRESS"
	case StateTxnCommitting:
		return "TXN_COMMITTING"
	default:
		return "UNKNOWN_STATE"
	}
}

// Event is a session protocol event.
type Event uint8

const (
	EventConnect Event = iota + 1
	EventBeginTxn
	EventRollbackTxn
	EventCommitTxn
	EventDecideTxnCommit
	EventDecideTxnAbort
	EventRequestStream
	EventRequestMemory
	EventClientShutdown
	EventServerShutdown
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "CONNECT"
	case EventBeginTxn:
		return "BEGIN_TXN"
	case EventRollbackTxn:
		return "ROLLBACK_TXN"
	case EventCommitTxn:
		return "COMMIT_TXN"
	case EventDecideTxnCommit:
		return "DECIDE_TXN_COMMIT"
	case EventDecideTxnAbort:
		return "DECIDE_TXN_ABORT"
	case EventRequestStream:
		return "REQUEST_STREAM"
	case EventRequestMemory:
		return "REQUEST_MEMORY"
	case EventClientShutdown:
		return "CLIENT_SHUTDOWN"
	case EventServerShutdown:
		return "SERVER_SHUTDOWN"
	default:
		return "UNKNOWN_EVENT"
	}
}

// Transition returns the next state for (state, event), or a ProtocolError
// if the pair is not one of the valid transitions in §4.5's table. Any
// unmatched pair is fatal to the session.
func Transition(state State, event Event) (State, error) {
	switch event {
	case EventRequestStream, EventRequestMemory:
		return state, nil // valid in any state, state unchanged
	case EventClientShutdown, EventServerShutdown:
		return StateDisconnected, nil // valid in any state
	}

	switch state {
	case StateDisconnected:
		if event == EventConnect {
			return StateConnected, nil
		}
	case StateConnected:
		if event == EventBeginTxn {
			return StateTxnInProgress, nil
		}
	case StateTxnInProgress:
		switch event {
		case EventRollbackTxn:
			return StateConnected, nil
		case EventCommitTxn:
			return StateTxnCommitting, nil
		}
	case StateTxnCommitting:
		switch event {
		case EventDecideTxnCommit, EventDecideTxnAbort:
			return StateConnected, nil
		}
	}
	return state, types.NewProtocolError("invalid_transition", nil)
}
