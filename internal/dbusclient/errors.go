package dbusclient

import "fmt"

// TransientBrokerError wraps a send failure caused by memory or socket
// exhaustion. Callers retry at their own cadence (the GATT service's
// bring-up step timer re-arms at 1s on this error).
type TransientBrokerError struct {
	Op  string
	Err error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("dbusclient: transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientBrokerError) Unwrap() error { return e.Err }

// PeerRejection wraps a broker method reply carrying an error name, e.g.
// "org.bluez.Error.Rejected" or "org.freedesktop.DBus.Error.NoReply".
type PeerRejection struct {
	ErrorName string
	Message   string
}

func (e *PeerRejection) Error() string {
	return fmt.Sprintf("dbusclient: peer rejected (%s): %s", e.ErrorName, e.Message)
}

// ProtocolViolation indicates an unexpected argument type or a truncated
// variant while parsing an incoming message. The offending message is
// dropped; no state mutates as a result of it.
type ProtocolViolation struct {
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("dbusclient: protocol violation: %s", e.Detail)
}

// TimeoutError indicates an async call's reply never arrived before its
// deadline. Any later reply for the same handle is dropped.
type TimeoutError struct {
	Handle uint64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dbusclient: call %d timed out", e.Handle)
}

// DisconnectError is delivered to every pending async callback when the
// broker connection is lost before a reply arrives.
type DisconnectError struct{}

func (e *DisconnectError) Error() string { return "dbusclient: broker connection lost" }
